package mqttingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"bustracker/internal/metrics"
	"bustracker/internal/model"
	"bustracker/internal/store"
)

// positionPayload mirrors the driver channel's location frame so tracker
// hardware can report over MQTT instead of a websocket.
type positionPayload struct {
	BusNumber string  `json:"busNumber"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// Bridge subscribes to an external MQTT broker and applies position
// payloads to the history store. A payload that fails to decode or apply
// is logged and dropped; the subscription itself stays up.
type Bridge struct {
	logger  *slog.Logger
	store   *store.Store
	metrics *metrics.Collector
	client  mqtt.Client
	topic   string
}

// Connect dials the broker and installs the subscription.
func Connect(logger *slog.Logger, st *store.Store, mc *metrics.Collector, brokerURL, topic string) (*Bridge, error) {
	b := &Bridge{logger: logger, store: st, metrics: mc, topic: topic}

	clientID := fmt.Sprintf("bustracker-ingest-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true)

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}

	if token := b.client.Subscribe(topic, 0, b.handleMessage); token.Wait() && token.Error() != nil {
		b.client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %q: %w", topic, token.Error())
	}

	logger.Info("mqtt ingest bridge connected", "broker", brokerURL, "topic", topic)
	return b, nil
}

// Close tears down the subscription and disconnects.
func (b *Bridge) Close() {
	if b.client == nil {
		return
	}
	if token := b.client.Unsubscribe(b.topic); token != nil {
		token.Wait()
	}
	b.client.Disconnect(250)
	b.logger.Info("mqtt ingest bridge disconnected")
}

func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload positionPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		b.logger.Warn("mqtt payload decode failed", "topic", msg.Topic(), "error", err)
		b.countError()
		return
	}

	if payload.BusNumber == "" {
		b.logger.Warn("mqtt payload missing bus number", "topic", msg.Topic())
		b.countError()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := b.store.ApplyLocationUpdate(ctx, payload.BusNumber, payload.Lat, payload.Lon); err != nil {
		if errors.Is(err, model.ErrUnknownBus) {
			b.logger.Warn("mqtt payload for unregistered bus", "bus", payload.BusNumber)
		} else {
			b.logger.Error("mqtt ingest failed", "bus", payload.BusNumber, "error", err)
		}
		b.countError()
		return
	}

	if b.metrics != nil {
		b.metrics.MQTTIngested.Inc()
	}
	b.logger.Debug("ingested mqtt position", "bus", payload.BusNumber)
}

func (b *Bridge) countError() {
	if b.metrics != nil {
		b.metrics.MQTTIngestErrs.Inc()
	}
}
