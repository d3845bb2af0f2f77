package main

import (
	"flag"
	"log"

	"github.com/golang-io/tinymqtt"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	mqttAddr := flag.String("mqtt", ":1883", "MQTT listen address")
	wsAddr := flag.String("ws", "", "MQTT-over-WebSocket listen address (empty disables it)")
	httpAddr := flag.String("http", "", "admin HTTP listen address, serves /metrics /healthz /stats (empty disables it)")
	bridgeAddr := flag.String("bridge", "", "upstream broker address to bridge to (empty disables it)")
	user := flag.String("user", "guest", "auth username")
	pass := flag.String("pass", "guest", "auth password")
	flag.Parse()

	cfg := tinymqtt.Config{
		MQTT:      tinymqtt.Listen{URL: *mqttAddr},
		HTTP:      tinymqtt.Listen{URL: *httpAddr},
		Websocket: tinymqtt.Listen{URL: *wsAddr},
		Auth:      map[string]string{*user: *pass},
	}
	b := tinymqtt.NewBroker(tinymqtt.FromConfig(cfg))

	if *bridgeAddr != "" {
		if err := b.Connect(*bridgeAddr, tinymqtt.Credentials(*user, *pass)); err != nil {
			log.Fatalf("bridge connect: %v", err)
		}
	}

	log.Fatal(b.Run(cfg))
}
