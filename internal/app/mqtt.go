// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Command is a control request carried on the control topic.
type Command string

const (
	CommandReset       Command = "reset"
	CommandRecalibrate Command = "recalibrate"
)

// ParseCommand accepts either a bare command word or {"command": "..."}.
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var msg struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return "", fmt.Errorf("invalid control message: %w", err)
		}
		text = msg.Command
	}
	switch c := Command(strings.ToLower(strings.TrimSpace(text))); c {
	case CommandReset, CommandRecalibrate:
		return c, nil
	default:
		return "", fmt.Errorf("unknown control command: %q", text)
	}
}

// publisher is the slice of an MQTT client the services publish through.
type publisher interface {
	Publish(topic string, payload []byte) error
}

// mqttPublisher publishes at QoS 0. State topics are retained so late
// subscribers get the last value; commands must not be, or the broker
// replays them to every producer that connects later.
type mqttPublisher struct {
	client mqtt.Client
	retain bool
}

// newStatePublisher is for pose, IMU and status topics.
func newStatePublisher(client mqtt.Client) mqttPublisher {
	return mqttPublisher{client: client, retain: true}
}

// newCommandPublisher is for the control topic.
func newCommandPublisher(client mqtt.Client) mqttPublisher {
	return mqttPublisher{client: client}
}

func (p mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, p.retain, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("MQTT publish to %s timed out", topic)
	}
	return token.Error()
}

func publishJSON(p publisher, topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal error (%s): %w", topic, err)
	}
	if err := p.Publish(topic, payload); err != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", topic, err)
	}
	return nil
}

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("MQTT connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	log.Printf("connected to MQTT broker at %s as %s", broker, clientID)
	return client, nil
}

func subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) error {
	token := client.Subscribe(topic, 0, handler)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT subscribe %s: %w", topic, token.Error())
	}
	log.Printf("subscribed to MQTT topic %s", topic)
	return nil
}
