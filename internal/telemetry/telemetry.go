// Package telemetry publishes the diagnostic events the controller
// emits — state transitions, entry into the ERROR state, and streamer
// errors — to an optional MQTT broker. It has
// no inbound command channel; it exists purely for observability
// alongside the in-process client API, not as a second control plane.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Event is one diagnostic event published to the telemetry topic.
type Event struct {
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Emitter publishes Events to an MQTT broker. A nil *Emitter is a
// valid no-op emitter, so callers do not need to branch on whether
// telemetry is enabled.
type Emitter struct {
	client mqtt.Client
	topic  string

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// Connect dials broker and returns an Emitter that publishes to topic
// under clientID. It blocks until the connection completes, the broker
// rejects it, or 5 seconds pass.
func Connect(broker, clientID, topic string) (*Emitter, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)

	e := &Emitter{topic: topic}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("telemetry: connected", "broker", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("telemetry: connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("telemetry: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to %s: %w", broker, err)
	}
	e.client = client
	return e, nil
}

// Publish encodes event as JSON and fires it at the telemetry topic.
// Publish failures are logged, not returned, since a lost diagnostic
// event must never stall the controller's frame cycle.
func (e *Emitter) Publish(event Event) {
	if e == nil {
		return
	}
	event.Timestamp = event.Timestamp.UTC()
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("telemetry: marshal event", "error", err)
		return
	}
	token := e.client.Publish(e.topic, 0, false, payload)
	go func() {
		token.Wait()
		e.mu.Lock()
		if err := token.Error(); err != nil {
			e.errors++
			slog.Warn("telemetry: publish failed", "error", err)
		} else {
			e.published++
		}
		e.mu.Unlock()
	}()
}

// Stats reports counters for how many events have been published or
// failed so far.
func (e *Emitter) Stats() (published, errors uint64) {
	if e == nil {
		return 0, 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.published, e.errors
}

// Disconnect releases the MQTT connection.
func (e *Emitter) Disconnect() {
	if e == nil {
		return
	}
	e.client.Disconnect(250)
}
