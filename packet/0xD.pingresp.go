package packet

import (
	"bytes"
	"io"
)

// PINGRESP answers a PINGREQ. Fixed header: type 0x0D, flags must be 0.
// No variable header, no payload.
type PINGRESP struct {
	*FixedHeader
}

func (pkt *PINGRESP) Kind() byte {
	return 0xD
}
func (pkt *PINGRESP) Pack(w io.Writer) error {
	return pkt.FixedHeader.Pack(w)
}
func (pkt *PINGRESP) Unpack(_ *bytes.Buffer) error {
	return nil
}
