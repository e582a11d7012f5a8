package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/robotalks/etee.go/pkg/cli/sh"
	"github.com/robotalks/etee.go/pkg/telemetry"
	"github.com/robotalks/etee.go/pkg/telemetry/mqtt"
)

var (
	mqttURL = "mqtt://localhost:1883/etee/"
	format  = "json"
	values  bool
)

func init() {
	if val := os.Getenv("ETEE_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&format, "format", format, "payload format: json or proto.")
	flag.BoolVar(&values, "values", values, "also print widget values.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	f, err := telemetry.ParseFormat(format)
	if err != nil {
		log.Fatalln(err)
	}
	q, err := mqtt.NewQueueFromURL(mqttURL, "")
	if err != nil {
		log.Fatalln(err)
	}
	if err = q.Connect(); err != nil {
		log.Fatalln(err)
	}
	defer q.Close()

	q.Sub(mqtt.PosePattern, mqtt.Handler(func(topic string, payload []byte) {
		s, err := telemetry.Decode(payload, f)
		if err != nil {
			log.Printf("%s: bad message: %v", topic, err)
			return
		}
		log.Printf("%s: %s", topic, sh.FormatPose(s))
		if values {
			log.Printf("%s: %s", topic, sh.FormatValues(s))
		}
	}))
	q.Sub(mqtt.EventsTopic, mqtt.Handler(func(topic string, payload []byte) {
		var msg mqtt.EventMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("%s: bad message: %v", topic, err)
			return
		}
		log.Printf("%s: %s %s", topic, msg.Event, msg.Hand)
	}))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh
}
