package protocol

import "testing"

func TestVLQ_Roundtrip(t *testing.T) {
	vals := []int32{
		0, 1, 31, 32, 33, 95, 96, 97, 127, 128, 129,
		0x1fff, 0x2000, 0x2001,
		-1, -31, -32, -33, -4095, -4096, -4097,
		0x7fffffff, -0x80000000,
	}
	for _, v := range vals {
		out := []byte{}
		EncodeUint32(&out, v)
		got, pos := DecodeUint32(out, 0)
		if pos != len(out) {
			t.Fatalf("DecodeUint32 consumed %d/%d for %d", pos, len(out), v)
		}
		if got != v {
			t.Fatalf("roundtrip %d -> %v -> %d", v, out, got)
		}
	}
}

func TestVLQ_KnownEncodings(t *testing.T) {
	// Spot-check a few encodings against the PT_uint32 reference.
	cases := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{31, []byte{0x1f}},
		{32, []byte{0x20}},
		{96, []byte{0x80, 0x60}},
		{-1, []byte{0x7f}},
		{-32, []byte{0x60}},
	}
	for _, tc := range cases {
		out := []byte{}
		EncodeUint32(&out, tc.v)
		if len(out) != len(tc.want) {
			t.Fatalf("EncodeUint32(%d)=%v want %v", tc.v, out, tc.want)
		}
		for i := range out {
			if out[i] != tc.want[i] {
				t.Fatalf("EncodeUint32(%d)=%v want %v", tc.v, out, tc.want)
			}
		}
	}
}

func TestQueueStepRoundtrip(t *testing.T) {
	out := []byte{}
	EncodeQueueStep(&out, DefaultQueueStepTag, 3, 5000, 120, -7)

	tag, pos := DecodeUint32(out, 0)
	if tag != DefaultQueueStepTag {
		t.Fatalf("msgtag=%d want %d", tag, DefaultQueueStepTag)
	}
	oid, interval, count, add, pos := DecodeQueueStep(out, pos)
	if pos != len(out) {
		t.Fatalf("DecodeQueueStep consumed %d/%d", pos, len(out))
	}
	if oid != 3 || interval != 5000 || count != 120 || add != -7 {
		t.Fatalf("decoded oid=%d interval=%d count=%d add=%d", oid, interval, count, add)
	}
}

func TestSetNextStepDir(t *testing.T) {
	for _, dir := range []bool{false, true} {
		out := []byte{}
		EncodeSetNextStepDir(&out, DefaultSetNextStepDirTag, 1, dir)

		tag, pos := DecodeUint32(out, 0)
		if tag != DefaultSetNextStepDirTag {
			t.Fatalf("msgtag=%d want %d", tag, DefaultSetNextStepDirTag)
		}
		v, pos := DecodeUint32(out, pos)
		if v != 1 {
			t.Fatalf("oid=%d want 1", v)
		}
		d, pos := DecodeUint32(out, pos)
		want := int32(0)
		if dir {
			want = 1
		}
		if d != want || pos != len(out) {
			t.Fatalf("dir=%d want %d (pos %d/%d)", d, want, pos, len(out))
		}
	}
}
