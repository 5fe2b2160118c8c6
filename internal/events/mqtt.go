package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/KushalM23/SmartAgriNode/internal/config"
)

const (
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250
)

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// MQTTPublisher publishes events to an MQTT broker.
type MQTTPublisher struct {
	client mqttClient
	prefix string
	qos    byte
	logger *slog.Logger
	wg     sync.WaitGroup
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher connects to cfg.MQTTBroker, retrying with exponential backoff.
func NewMQTTPublisher(cfg config.EventsConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)

	return newMQTTPublisher(mqtt.NewClient(opts), cfg, logger, backoff.NewExponentialBackOff())
}

func newMQTTPublisher(client mqttClient, cfg config.EventsConfig, logger *slog.Logger, bo backoff.BackOff) (*MQTTPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	err := backoff.Retry(func() error {
		token := client.Connect()
		if token.Wait() && token.Error() != nil {
			logger.Warn("failed to connect to MQTT broker", "broker", cfg.MQTTBroker, "error", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, 4))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	logger.Info("connected to MQTT broker", "broker", cfg.MQTTBroker)
	return &MQTTPublisher{
		client: client,
		prefix: strings.TrimRight(cfg.TopicPrefix, "/"),
		qos:    byte(cfg.QoS),
		logger: logger,
	}, nil
}

// Topic returns the topic an event is published to.
func (p *MQTTPublisher) Topic(ev Event) string {
	return p.prefix + "/" + ev.DeviceID + "/" + ev.Type
}

// Publish sends ev without waiting for the broker acknowledgement.
func (p *MQTTPublisher) Publish(_ context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal event", "type", ev.Type, "error", err)
		return
	}

	topic := p.Topic(ev)
	token := p.client.Publish(topic, p.qos, false, payload)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("event publish timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("event publish failed", "topic", topic, "error", err)
		}
	}()
}

// Close waits for in-flight publishes and disconnects.
func (p *MQTTPublisher) Close() {
	p.wg.Wait()
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesce)
		p.logger.Info("MQTT connection closed")
	}
}
