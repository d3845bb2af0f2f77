package packet

import (
	"bytes"
	"testing"
)

func TestUNSUBACK_Kind(t *testing.T) {
	if (&UNSUBACK{}).Kind() != 0xB {
		t.Fatalf("UNSUBACK.Kind() = %#x, want 0xB", (&UNSUBACK{}).Kind())
	}
}

func TestUNSUBACK_PackUnpack(t *testing.T) {
	pkt := &UNSUBACK{FixedHeader: &FixedHeader{Version: VERSION311, Kind: 0xB}, PacketID: 9}

	buf := &bytes.Buffer{}
	if err := pkt.Pack(buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, err := Unpack(VERSION311, buf)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	unsuback, ok := got.(*UNSUBACK)
	if !ok {
		t.Fatalf("Unpack() returned %T, want *UNSUBACK", got)
	}
	if unsuback.PacketID != 9 {
		t.Errorf("PacketID = %d, want 9", unsuback.PacketID)
	}
}
