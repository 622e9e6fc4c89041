package protocol

// Command tags come from the MCU's data dictionary; the values here are
// defaults used when no dictionary has been negotiated.
const (
	DefaultQueueStepTag      = 11
	DefaultSetNextStepDirTag = 12
)

// EncodeQueueStep appends a queue_step command payload:
//
//	queue_step oid=%c interval=%u count=%hu add=%hi
func EncodeQueueStep(out *[]byte, msgtag int32, oid uint8, interval uint32, count uint16, add int16) {
	EncodeUint32(out, msgtag)
	EncodeUint32(out, int32(oid))
	EncodeUint32(out, int32(interval))
	EncodeUint32(out, int32(count))
	EncodeUint32(out, int32(add))
}

// EncodeSetNextStepDir appends a set_next_step_dir command payload:
//
//	set_next_step_dir oid=%c dir=%c
func EncodeSetNextStepDir(out *[]byte, msgtag int32, oid uint8, dir bool) {
	EncodeUint32(out, msgtag)
	EncodeUint32(out, int32(oid))
	d := int32(0)
	if dir {
		d = 1
	}
	EncodeUint32(out, d)
}

// DecodeQueueStep decodes a queue_step payload starting at pos (after any
// preceding commands in the same block), returning the fields and the
// position just past the command. The caller is expected to have matched
// the msgtag already via DecodeUint32.
func DecodeQueueStep(buf []byte, pos int) (oid uint8, interval uint32, count uint16, add int16, next int) {
	v, pos := DecodeUint32(buf, pos)
	oid = uint8(v)
	v, pos = DecodeUint32(buf, pos)
	interval = uint32(v)
	v, pos = DecodeUint32(buf, pos)
	count = uint16(v)
	v, pos = DecodeUint32(buf, pos)
	add = int16(v)
	return oid, interval, count, add, pos
}
