package packet

import (
	"bytes"
	"io"
)

// DISCONNECT is the client's graceful goodbye. Fixed header: type
// 0x0E, flags must be 0 [MQTT-3.14.1-1]. No variable header, no
// payload. Once sent, the client must close the network connection
// and the broker must not treat the closed socket as an ungraceful
// loss — no will message is published.
type DISCONNECT struct {
	*FixedHeader
}

func NewDISCONNECT(version byte) *DISCONNECT {
	return &DISCONNECT{
		FixedHeader: &FixedHeader{
			Kind:    0x0E,
			Version: version,
		},
	}
}

func (pkt *DISCONNECT) Kind() byte {
	return 0xE
}

func (pkt *DISCONNECT) Pack(w io.Writer) error {
	pkt.FixedHeader.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *DISCONNECT) Unpack(_ *bytes.Buffer) error {
	return nil
}
