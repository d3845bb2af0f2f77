package packet

import (
	"bytes"
	"fmt"
	"io"
)

// CONNACK acknowledges a CONNECT. Fixed header: type 0x02, flags must be
// 0. Variable header: session present flag, connect return code. No
// payload.
type CONNACK struct {
	*FixedHeader

	// SessionPresent occupies bit 0 of the first variable-header byte;
	// bits 7-1 are reserved and must be 0.
	SessionPresent uint8

	// ConnectReturnCode is one of the six codes in
	// MQTT v3.1.1 section 3.2.2.3. A non-zero code means the server
	// must close the network connection after sending it
	// [MQTT-3.2.2-5].
	ConnectReturnCode ReasonCode `json:"ConnectReturnCode,omitempty"`
}

func (pkt *CONNACK) Kind() byte {
	return 0x2
}

func (pkt *CONNACK) String() string {
	return fmt.Sprintf("[0x2]ConnectReturnCode=%d", pkt.ConnectReturnCode.Code)
}

func (pkt *CONNACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.WriteByte(pkt.SessionPresent)
	buf.WriteByte(pkt.ConnectReturnCode.Code)

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *CONNACK) Unpack(buf *bytes.Buffer) error {
	pkt.SessionPresent = buf.Next(1)[0]
	pkt.ConnectReturnCode = ReasonCode{Code: buf.Next(1)[0]}
	return nil
}
