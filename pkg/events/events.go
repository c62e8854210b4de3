// Package events publishes attendance notifications to other systems.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/config"
	"github.com/MrCodeEU/rollcall/pkg/directory"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Event is published once per newly recorded attendance.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	Name         string    `json:"name"`
	ID           string    `json:"id"`
	Organization string    `json:"organization"`
	Session      string    `json:"session"`
}

// NewEvent builds the event for r recorded at when during session.
func NewEvent(r directory.Record, when time.Time, session string) Event {
	return Event{
		Timestamp:    when,
		Name:         r.OfficialName,
		ID:           r.UniqueID,
		Organization: r.Organization,
		Session:      session,
	}
}

// Publisher delivers attendance events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// ErrNotConnected is returned when the broker connection could not be established.
var ErrNotConnected = errors.New("mqtt broker not connected")

const (
	qosAtLeastOnce = 1
	connectTimeout = 10 * time.Second
	disconnectWait = 250 // milliseconds
)

// mqttClient is the subset of mqtt.Client used by the publisher.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes events as JSON to a single topic.
type MQTTPublisher struct {
	client mqttClient
	topic  string
}

// Open returns an MQTT publisher for cfg, or Nop when no broker is configured.
func Open(cfg config.EventsConfig) (Publisher, error) {
	if cfg.MQTTBroker == "" {
		logging.Component("events").Debug("No MQTT broker configured, attendance events disabled")
		return Nop{}, nil
	}
	return NewMQTTPublisher(cfg)
}

// NewMQTTPublisher connects to the configured broker with a random client id.
func NewMQTTPublisher(cfg config.EventsConfig) (*MQTTPublisher, error) {
	clientID := "rollcall-" + uuid.New().String()
	log := logging.Component("events")

	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTTBroker).SetClientID(clientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(mqtt.Client) {
		log.Infof("Connected to MQTT broker %s", cfg.MQTTBroker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("Lost MQTT connection")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timed out connecting to %s", ErrNotConnected, cfg.MQTTBroker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return newMQTTPublisher(client, cfg.MQTTTopic), nil
}

func newMQTTPublisher(client mqttClient, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic}
}

// Publish sends e and waits for the broker acknowledgement or ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := p.client.Publish(p.topic, qosAtLeastOnce, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}

	logging.Component("events").WithFields(logging.Fields{
		"topic": p.topic,
		"name":  e.Name,
	}).Debug("Published attendance event")
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(disconnectWait)
	return nil
}
