package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// PUBLISH carries an application message between client and server.
// Fixed header: type 0x03, flags DUP/QoS/RETAIN. tinymqtt only ever
// sends QoS 0 [MQTT-3.3.1-2]; an inbound QoS 1/2 PUBLISH is accepted on
// the wire (its reserved packet identifier field is read and discarded)
// but never triggers PUBACK/PUBREC.
//
// Variable header: topic name (required, no wildcards, no spaces
// [MQTT-3.3.2-1], [MQTT-3.3.2-2]), packet identifier (only present when
// QoS > 0 [MQTT-2.3.1-5]). Payload: the message content; a zero-length
// payload is valid.
type PUBLISH struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// PacketID is only meaningful (and only present on the wire) for
	// QoS > 0 [MQTT-2.3.1-1].
	PacketID uint16 `json:"PacketID,omitempty"`

	Message *Message `json:"message,omitempty"`
}

func (pkt *PUBLISH) Kind() byte {
	return 0x3
}

func (pkt *PUBLISH) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if pkt.FixedHeader == nil {
		return fmt.Errorf("FixedHeader is nil")
	}
	if pkt.FixedHeader.QoS == 3 {
		return ErrProtocolViolationQosOutOfRange
	}
	if pkt.Message.TopicName == "" {
		return ErrMalformedTopic
	}
	if strings.ContainsAny(pkt.Message.TopicName, "+# ") {
		return ErrProtocolViolationSurplusWildcard
	}

	buf.Write(s2b(pkt.Message.TopicName))
	if pkt.FixedHeader.QoS > 0 {
		if pkt.PacketID == 0 {
			return ErrMalformedPacketID
		}
		buf.Write(i2b(pkt.PacketID))
	}

	if _, err := buf.Write(pkt.Message.Content); err != nil {
		return err
	}
	pkt.FixedHeader.RemainingLength = uint32(buf.Len())

	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBLISH) Unpack(buf *bytes.Buffer) error {
	topicLength := int(binary.BigEndian.Uint16(buf.Next(2)))
	if topicLength == 0 {
		return ErrMalformedTopic
	}

	pkt.Message = &Message{TopicName: string(buf.Next(topicLength))}
	if strings.ContainsAny(pkt.Message.TopicName, "+# ") {
		return ErrProtocolViolationSurplusWildcard
	}

	if pkt.FixedHeader.QoS > 0 {
		if buf.Len() < 2 {
			return fmt.Errorf("insufficient data for packet identifier")
		}
		pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))
		if pkt.PacketID == 0 {
			return ErrMalformedPacketID
		}
	}

	// Copy the remaining bytes: buf.Bytes() aliases the pooled buffer's
	// backing array, which PutBuffer resets and recycles.
	pkt.Message.Content = append([]byte{}, buf.Bytes()...)
	return nil
}

// Message is a PUBLISH payload: the topic it targets and its content.
type Message struct {
	TopicName string
	Content   []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("%s # %s", m.TopicName, m.Content)
}
