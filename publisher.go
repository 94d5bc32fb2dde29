package main

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type readingPublisher interface {
	Publish(r SensorReading) error
}

// mqttPublisher sends every reading as JSON to a retained topic.
type mqttPublisher struct {
	client mqtt.Client
	topic  string
}

func newMQTTPublisher(broker, clientID, topic string) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	return &mqttPublisher{client: client, topic: topic}, nil
}

func (p *mqttPublisher) Publish(r SensorReading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 0, true, payload)
	token.Wait()
	return token.Error()
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}
