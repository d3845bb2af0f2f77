package packet

import (
	"bytes"
	"testing"
)

func TestSUBACK_Kind(t *testing.T) {
	if (&SUBACK{}).Kind() != 0x9 {
		t.Fatalf("SUBACK.Kind() = %#x, want 0x9", (&SUBACK{}).Kind())
	}
}

func TestSUBACK_PackUnpack(t *testing.T) {
	pkt := &SUBACK{
		FixedHeader: &FixedHeader{Version: VERSION311, Kind: 0x9},
		PacketID:    5,
		ReasonCode: []ReasonCode{
			{Code: 0x00},
			{Code: 0x01},
			{Code: 0x80},
		},
	}

	buf := &bytes.Buffer{}
	if err := pkt.Pack(buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, err := Unpack(VERSION311, buf)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	suback, ok := got.(*SUBACK)
	if !ok {
		t.Fatalf("Unpack() returned %T, want *SUBACK", got)
	}
	if suback.PacketID != 5 {
		t.Errorf("PacketID = %d, want 5", suback.PacketID)
	}
	if len(suback.ReasonCode) != 3 {
		t.Fatalf("len(ReasonCode) = %d, want 3", len(suback.ReasonCode))
	}
	for i, rc := range suback.ReasonCode {
		if rc.Code != pkt.ReasonCode[i].Code {
			t.Errorf("ReasonCode[%d] = %#x, want %#x", i, rc.Code, pkt.ReasonCode[i].Code)
		}
	}
}

func TestSUBACK_FailureCodeIsValid(t *testing.T) {
	// 0x80 (subscription refused) is a legal SUBACK return code, not a
	// malformed packet.
	buf := &bytes.Buffer{}
	buf.Write(i2b(1))
	buf.WriteByte(0x80)
	pkt := &SUBACK{FixedHeader: &FixedHeader{Version: VERSION311}}
	if err := pkt.Unpack(buf); err != nil {
		t.Errorf("Unpack() error = %v, want nil", err)
	}
}

func TestSUBACK_OutOfRangeCodeRejected(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write(i2b(1))
	buf.WriteByte(0x03)
	pkt := &SUBACK{FixedHeader: &FixedHeader{Version: VERSION311}}
	if err := pkt.Unpack(buf); err != ErrMalformedReasonCode {
		t.Errorf("Unpack() error = %v, want ErrMalformedReasonCode", err)
	}
}

func TestSUBACK_EmptyReasonCodeRejectedOnPack(t *testing.T) {
	pkt := &SUBACK{FixedHeader: &FixedHeader{Version: VERSION311, Kind: 0x9}, PacketID: 1}
	if err := pkt.Pack(&bytes.Buffer{}); err != ErrMalformedReasonCode {
		t.Errorf("Pack() error = %v, want ErrMalformedReasonCode", err)
	}
}
