package protocol

const (
	MESSAGE_MIN         = 5
	MESSAGE_MAX         = 64
	MESSAGE_PAYLOAD_MAX = MESSAGE_MAX - MESSAGE_MIN
	MESSAGE_DEST        = 0x10
	MESSAGE_SYNC        = 0x7e
	MESSAGE_SEQ_MASK    = 0x0f
)

// EncodeMsgblock wraps a command payload into an MCU message block:
// length byte, sequence byte (with MESSAGE_DEST set), payload, CRC16,
// sync byte.
func EncodeMsgblock(seq int, payload []byte) []byte {
	msglen := MESSAGE_MIN + len(payload)
	seq = (seq & MESSAGE_SEQ_MASK) | MESSAGE_DEST
	out := make([]byte, 0, msglen)
	out = append(out, byte(msglen), byte(seq))
	out = append(out, payload...)
	crcHi, crcLo := CRC16CCITT(out)
	out = append(out, crcHi, crcLo, MESSAGE_SYNC)
	return out
}
