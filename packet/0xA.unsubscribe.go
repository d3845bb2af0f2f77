package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

// UNSUBSCRIBE drops one or more existing subscriptions. Fixed header:
// type 0x0A, flags DUP=0/QoS=1/RETAIN=0. Variable header: packet
// identifier. Payload: one or more topic filters, matched verbatim
// against the client's subscription set.
type UNSUBSCRIBE struct {
	*FixedHeader

	PacketID uint16

	Subscriptions []Subscription
}

func (pkt *UNSUBSCRIBE) Kind() byte {
	return 0xA
}

func (pkt *UNSUBSCRIBE) Pack(w io.Writer) error {
	if len(pkt.Subscriptions) == 0 {
		return ErrMalformedTopic
	}

	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))
	for _, subscription := range pkt.Subscriptions {
		buf.Write(s2b(subscription.TopicFilter))
	}

	pkt.FixedHeader.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *UNSUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < 2 {
		return ErrMalformedPacketID
	}
	pkt.PacketID = binary.BigEndian.Uint16(buf.Next(2))

	for buf.Len() != 0 {
		topicLength := int(binary.BigEndian.Uint16(buf.Next(2)))
		subscription := Subscription{TopicFilter: string(buf.Next(topicLength))}
		pkt.Subscriptions = append(pkt.Subscriptions, subscription)
	}
	if len(pkt.Subscriptions) == 0 {
		return ErrMalformedTopic
	}
	return nil
}
