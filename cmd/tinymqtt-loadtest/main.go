package main

import (
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang-io/requests"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	broker := flag.String("broker", "tcp://127.0.0.1:1883", "broker address, e.g. tcp://host:port")
	clients := flag.Int("clients", 100, "number of concurrent publishing clients")
	interval := flag.Duration("interval", time.Second, "publish interval per client")
	flag.Parse()

	group := sync.WaitGroup{}
	for i := 0; i < *clients; i++ {
		i := i
		group.Add(1)
		go func() {
			defer group.Done()
			runClient(*broker, i, *interval)
		}()
	}
	group.Wait()
}

func onMessageReceived(client paho.Client, message paho.Message) {
	log.Printf("topic=%s payload=%s", message.Topic(), message.Payload())
}

// runClient dials broker over real TCP with the external paho client
// (never tinymqtt's own code), subscribes to everything and publishes
// a steady stream, exercising the broker the way a field deployment
// would.
func runClient(broker string, i int, interval time.Duration) {
	const qos = byte(0)
	id := requests.GenId()

	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(id).SetCleanSession(true)
	opts.SetAutoReconnect(true)

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("client %d: connect failed: %v", i, token.Error())
		return
	}
	defer client.Disconnect(250)

	if token := client.Subscribe("#", qos, onMessageReceived); token.Wait() && token.Error() != nil {
		log.Printf("client %d: subscribe failed: %v", i, token.Error())
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		topic := fmt.Sprintf("loadtest/%02d", i)
		payload := fmt.Sprintf("tinymqtt-loadtest:%02d:%d", i, time.Now().UnixNano())
		if token := client.Publish(topic, qos, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("client %d: publish failed: %v", i, token.Error())
			return
		}
	}
}
