package tinymqtt

import (
	"testing"
	"time"
)

func TestClientSession_LocalPublishSubscribe(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	received := make(chan string, 1)
	sub := NewClient(ClientID("sub"))
	sub.SetCallback(func(topicName string, payload []byte) {
		received <- topicName + "=" + string(payload)
	})
	if err := sub.ConnectLocal(b); err != nil {
		t.Fatalf("ConnectLocal: %v", err)
	}
	if err := sub.Subscribe("room/+/temp", 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub := NewClient(ClientID("pub"))
	if err := pub.ConnectLocal(b); err != nil {
		t.Fatalf("ConnectLocal: %v", err)
	}
	if err := pub.Publish("room/kitchen/temp", []byte("21")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got != "room/kitchen/temp=21" {
			t.Errorf("got %q, want room/kitchen/temp=21", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestClientSession_NotSubscribedReceivesNothing(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	received := make(chan string, 1)
	sub := NewClient(ClientID("sub2"))
	sub.SetCallback(func(topicName string, payload []byte) { received <- topicName })
	if err := sub.ConnectLocal(b); err != nil {
		t.Fatalf("ConnectLocal: %v", err)
	}
	if err := sub.Subscribe("other/topic", 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub := NewClient(ClientID("pub2"))
	if err := pub.ConnectLocal(b); err != nil {
		t.Fatalf("ConnectLocal: %v", err)
	}
	if err := pub.Publish("room/kitchen/temp", []byte("21")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		t.Fatalf("unexpected delivery: %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientSession_SubscribeThenUnsubscribeClearsSet(t *testing.T) {
	c := NewClient(ClientID("solo"))
	if err := c.Subscribe("a/b", 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !c.IsSubscribedTo("a/b") {
		t.Fatal("expected subscription to be present")
	}
	if err := c.Unsubscribe("a/b"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if c.IsSubscribedTo("a/b") {
		t.Fatal("expected subscription to be cleared")
	}
}

func TestClientSession_PublishWithNoBrokerNoTransport(t *testing.T) {
	c := NewClient(ClientID("orphan"))
	if err := c.Publish("x", []byte("v")); err != ErrNowhereToSend {
		t.Errorf("Publish() error = %v, want ErrNowhereToSend", err)
	}
}

func TestClientSession_PublishEmptyTopicIsInvalid(t *testing.T) {
	c := NewClient(ClientID("orphan2"))
	if err := c.Publish("", []byte("v")); err != ErrInvalidMessage {
		t.Errorf("Publish() error = %v, want ErrInvalidMessage", err)
	}
}

func TestClientSession_ReSubscribeIsIdempotent(t *testing.T) {
	c := NewClient(ClientID("idem"))
	if err := c.Subscribe("a/b", 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := c.Subscribe("a/b", 0); err != nil {
		t.Fatalf("Subscribe (again): %v", err)
	}
	if !c.IsSubscribedTo("a/b") {
		t.Fatal("expected subscription to remain present")
	}
}
