package packet

import (
	"bytes"
	"io"
)

// PINGREQ keeps the network connection alive between publishes. Fixed
// header: type 0x0C, flags must be 0. No variable header, no payload.
// The broker must answer with PINGRESP.
type PINGREQ struct {
	*FixedHeader
}

func (pkt *PINGREQ) Kind() byte {
	return 0xC
}
func (pkt *PINGREQ) Pack(w io.Writer) error {
	return pkt.FixedHeader.Pack(w)
}
func (pkt *PINGREQ) Unpack(_ *bytes.Buffer) error {
	return nil
}
