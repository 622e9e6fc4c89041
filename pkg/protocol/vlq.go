// Package protocol encodes the compressed step command stream into the
// MCU wire format: variable-length integers, CRC16 message framing, and
// the queue_step / set_next_step_dir command payloads.
package protocol

// EncodeUint32 appends v in the MCU's variable-length quantity encoding
// (the PT_uint32 scheme). Range checks use a signed int32 view of the
// value, but bit shifts use the underlying 32-bit value.
func EncodeUint32(out *[]byte, v int32) {
	uv := uint32(v)
	sv := int32(v)
	if sv >= 0xc000000 || sv < -0x4000000 {
		*out = append(*out, byte(((uv>>28)&0x7f)|0x80))
	}
	if sv >= 0x180000 || sv < -0x80000 {
		*out = append(*out, byte(((uv>>21)&0x7f)|0x80))
	}
	if sv >= 0x3000 || sv < -0x1000 {
		*out = append(*out, byte(((uv>>14)&0x7f)|0x80))
	}
	if sv >= 0x60 || sv < -0x20 {
		*out = append(*out, byte(((uv>>7)&0x7f)|0x80))
	}
	*out = append(*out, byte(uv&0x7f))
}

// DecodeUint32 decodes one VLQ value starting at pos, returning the value
// and the position just past it.
func DecodeUint32(buf []byte, pos int) (int32, int) {
	c := buf[pos]
	pos++
	v := int32(c & 0x7f)
	if (c & 0x60) == 0x60 {
		v |= -0x20
	}
	for (c & 0x80) != 0 {
		c = buf[pos]
		pos++
		v = (v << 7) | int32(c&0x7f)
	}
	return v, pos
}
