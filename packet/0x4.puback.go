package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// PUBACK acknowledges a QoS 1 PUBLISH. Fixed header: type 0x04, flags
// must be 0. Variable header: packet identifier only. tinymqtt never
// originates QoS 1 publishes, so it never needs to send one of these;
// the codec still supports it so an inbound PUBACK (sent by a peer that
// ignores the broker's QoS 0 advertisement) can be decoded and silently
// dropped rather than treated as a protocol error.
type PUBACK struct {
	*FixedHeader

	PacketID uint16
}

func (pkt *PUBACK) Kind() byte {
	return 0x4
}

func (pkt *PUBACK) Pack(w io.Writer) error {
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

func (pkt *PUBACK) Unpack(buf *bytes.Buffer) error {
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
	return nil
}
