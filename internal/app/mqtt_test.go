package app

import (
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct {
	mqtt.Token
}

func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

type publishCall struct {
	topic    string
	retained bool
	payload  string
}

// recordingClient only implements Publish; other methods panic.
type recordingClient struct {
	mqtt.Client
	calls []publishCall
}

func (c *recordingClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.calls = append(c.calls, publishCall{topic: topic, retained: retained, payload: string(payload.([]byte))})
	return doneToken{}
}

type fakeMessage struct {
	mqtt.Message
	payload  string
	retained bool
}

func (m fakeMessage) Payload() []byte { return []byte(m.payload) }
func (m fakeMessage) Retained() bool  { return m.retained }

func TestPublishers_RetainFlag(t *testing.T) {
	client := &recordingClient{}
	if err := newStatePublisher(client).Publish("palm/pose", []byte(`{}`)); err != nil {
		t.Fatalf("state publish: %v", err)
	}
	if err := newCommandPublisher(client).Publish("palm/control", []byte("recalibrate")); err != nil {
		t.Fatalf("command publish: %v", err)
	}
	if len(client.calls) != 2 {
		t.Fatalf("calls=%+v", client.calls)
	}
	if !client.calls[0].retained {
		t.Fatalf("state topic not retained: %+v", client.calls[0])
	}
	if client.calls[1].retained || client.calls[1].payload != "recalibrate" {
		t.Fatalf("control command retained: %+v", client.calls[1])
	}
}

func TestControlHandler_IgnoresRetained(t *testing.T) {
	commands := make(chan Command, 4)
	h := controlHandler(commands)

	h(nil, fakeMessage{payload: "recalibrate", retained: true})
	h(nil, fakeMessage{payload: "bogus"})
	h(nil, fakeMessage{payload: "reset"})

	if len(commands) != 1 {
		t.Fatalf("queued=%d want 1", len(commands))
	}
	if got := <-commands; got != CommandReset {
		t.Fatalf("cmd=%q want reset", got)
	}
}

func TestControlHandler_DropsWhenQueueFull(t *testing.T) {
	commands := make(chan Command, 1)
	h := controlHandler(commands)
	h(nil, fakeMessage{payload: "reset"})
	h(nil, fakeMessage{payload: "recalibrate"})
	if got := <-commands; got != CommandReset || len(commands) != 0 {
		t.Fatalf("cmd=%q remaining=%d", got, len(commands))
	}
}
