package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// UNSUBACK acknowledges an UNSUBSCRIBE. Fixed header: type 0x0B, flags
// must be 0. Variable header: packet identifier. No payload.
type UNSUBACK struct {
	*FixedHeader

	PacketID uint16
}

func (pkt *UNSUBACK) Kind() byte {
	return 0xB
}

func (pkt *UNSUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(i2b(pkt.PacketID))
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())

	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *UNSUBACK) Unpack(buf *bytes.Buffer) error {
	if pkt.FixedHeader.RemainingLength != 2 {
		return ErrMalformedPacket
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Bytes())
	return nil
}
