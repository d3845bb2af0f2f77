package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang-io/requests"
)

/*
3.1 CONNECT - Client requests a connection to a Server

Fixed header: type 0x01, flags must be 0.
Variable header: protocol name "MQTT", protocol level, connect flags,
keep alive.
Payload: client identifier, will topic/payload (if WillFlag), user name,
password.

The client sends CONNECT at most once per network connection
[MQTT-3.1.0-2]; a second CONNECT on the same connection is a protocol
violation.
*/

// NAME is the fixed protocol name field: 0x00 0x04 'M' 'Q' 'T' 'T'.
var NAME = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

type CONNECT struct {
	*FixedHeader

	ConnectFlags ConnectFlags
	KeepAlive    uint16

	ClientID    string `json:"ClientID,omitempty"`
	WillTopic   string
	WillPayload []byte
	Username    string `json:"Username,omitempty"`
	Password    string `json:"Password,omitempty"`
}

func (pkt *CONNECT) Kind() byte {
	return 0x1
}

func (pkt *CONNECT) String() string {
	return "[0x1]CONNECT"
}

func (pkt *CONNECT) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(NAME)
	buf.WriteByte(pkt.FixedHeader.Version)

	uf := s2i(pkt.Username)
	pf := s2i(pkt.Password)
	wr := uint8(0)
	wq := uint8(0)
	wf := uint8(0)
	cs := uint8(1) // always start a clean session

	if pkt.WillTopic != "" || pkt.WillPayload != nil {
		wf = 1
		wq = 1
	}

	flag := uf<<7 | pf<<6 | wr<<5 | wq<<3 | wf<<2 | cs<<1
	buf.WriteByte(flag)
	buf.Write(i2b(pkt.KeepAlive))

	if len(pkt.ClientID) > 23 {
		return fmt.Errorf("client ID too long: %d characters, maximum allowed is 23", len(pkt.ClientID))
	}
	buf.Write(s2b(pkt.ClientID))

	if wf == 1 {
		buf.Write(s2b(pkt.WillTopic))
		buf.Write(s2b(pkt.WillPayload))
	}
	if pkt.Username != "" {
		buf.Write(s2b(pkt.Username))
	}
	if pkt.Password != "" {
		buf.Write(s2b(pkt.Password))
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *CONNECT) Unpack(buf *bytes.Buffer) error {
	name := buf.Next(6)
	if !bytes.Equal(name, NAME) {
		return fmt.Errorf("%w: Len=%d, %v", ErrMalformedProtocolName, pkt.RemainingLength, name)
	}

	pkt.Version, pkt.ConnectFlags = buf.Next(1)[0], ConnectFlags(buf.Next(1)[0])

	// The Server MUST validate that the reserved flag in the CONNECT
	// Control Packet is set to zero and disconnect the Client if it is
	// not zero [MQTT-3.1.2-3].
	if pkt.ConnectFlags.Reserved() != 0 {
		return ErrMalformedPacket
	}

	// If Will Flag is set to 1, Will QoS can be 0, 1 or 2; 3 is
	// reserved [MQTT-3.1.2-14].
	if pkt.ConnectFlags.WillQoS() > 2 {
		return ErrProtocolViolationQosOutOfRange
	}

	// If Will Flag is set to 0, Will QoS and Will Retain must be 0
	// [MQTT-3.1.2-11], [MQTT-3.1.2-15].
	if !pkt.ConnectFlags.WillFlag() {
		if pkt.ConnectFlags.WillRetain() || pkt.ConnectFlags.WillQoS() != 0 {
			return ErrProtocolViolation
		}
	}

	pkt.KeepAlive = binary.BigEndian.Uint16(buf.Next(2))

	switch pkt.Version {
	case VERSION311:
	case VERSION310:
		return ErrUnsupportedProtocolVersion
	default:
		return ErrMalformedProtocolName
	}

	pkt.ClientID = decodeUTF8[string](buf)
	if pkt.ClientID == "" {
		pkt.ClientID = requests.GenId()
	}

	// Will Flag=1 requires Will Topic and Will Payload in the payload
	// [MQTT-3.1.2-9].
	if pkt.ConnectFlags.WillFlag() {
		pkt.WillTopic = decodeUTF8[string](buf)
		pkt.WillPayload = decodeUTF8[[]byte](buf)
		if pkt.WillTopic == "" {
			return ErrProtocolViolation
		}
	}

	if pkt.ConnectFlags.UserNameFlag() {
		// User Name Flag=1 requires a user name field [MQTT-3.1.2-19].
		pkt.Username = decodeUTF8[string](buf)
	} else if pkt.ConnectFlags.PasswordFlag() {
		// Password Flag must be 0 if User Name Flag is 0 [MQTT-3.1.2-22].
		return ErrMalformedPassword
	}

	if pkt.ConnectFlags.PasswordFlag() {
		pkt.Password = decodeUTF8[string](buf)
	}

	return nil
}

// ConnectFlags is the CONNECT variable header's single flags byte.
type ConnectFlags uint8

func (f ConnectFlags) Reserved() uint8 {
	return uint8(f) & 0x01
}

func (f ConnectFlags) CleanSession() bool {
	return (uint8(f) & 0x02) == 0x02
}

func (f ConnectFlags) WillFlag() bool {
	return (uint8(f) & 0x04) == 0x04
}

func (f ConnectFlags) WillQoS() uint8 {
	return (uint8(f) & 0x18) >> 3
}

func (f ConnectFlags) WillRetain() bool {
	return (uint8(f) & 0x20) == 0x20
}

func (f ConnectFlags) UserNameFlag() bool {
	return (uint8(f) & 0x80) == 0x80
}

func (f ConnectFlags) PasswordFlag() bool {
	return (uint8(f) & 0x40) == 0x40
}
