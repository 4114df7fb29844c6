package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fleetpulse/internal/heartbeat/application"
	heartbeat "fleetpulse/internal/heartbeat/domain"
)

// DefaultTopic matches heartbeats from any device.
const DefaultTopic = "devices/+/heartbeat"

const ingestTimeout = 10 * time.Second

// Config holds broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Consumer subscribes to device heartbeat topics and feeds each payload into
// the ingestion pipeline. The device id in the topic is authoritative and
// overrides whatever the payload claims.
type Consumer struct {
	client   mqtt.Client
	pipeline *application.Pipeline
	topic    string
	logger   *log.Logger
}

// NewConsumer connects to the broker and constructs a consumer.
func NewConsumer(cfg Config, pipeline *application.Pipeline, logger *log.Logger) (*Consumer, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt consumer: empty broker")
	}
	if pipeline == nil {
		return nil, errors.New("mqtt consumer: nil pipeline")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Printf("mqtt consumer: connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Printf("mqtt consumer: connected to %s", cfg.Broker)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt consumer: connect: %w", token.Error())
	}

	return &Consumer{
		client:   client,
		pipeline: pipeline,
		topic:    cfg.Topic,
		logger:   logger,
	}, nil
}

// Subscribe starts consuming heartbeats.
func (c *Consumer) Subscribe() error {
	token := c.client.Subscribe(c.topic, 1, c.handleHeartbeat)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt consumer: subscribe %s: %w", c.topic, token.Error())
	}
	c.logger.Printf("mqtt consumer: subscribed to %s", c.topic)
	return nil
}

// Close disconnects from the broker.
func (c *Consumer) Close() {
	c.client.Disconnect(250)
}

func (c *Consumer) handleHeartbeat(_ mqtt.Client, msg mqtt.Message) {
	var sample heartbeat.Sample
	if err := json.Unmarshal(msg.Payload(), &sample); err != nil {
		c.logger.Printf("mqtt consumer: decode error: topic=%s: %v", msg.Topic(), err)
		return
	}

	deviceID := extractDeviceID(msg.Topic())
	if deviceID == "" {
		c.logger.Printf("mqtt consumer: no device id in topic %s", msg.Topic())
		return
	}
	sample.DeviceID = deviceID
	sample.ID = ""
	sample.ArrivedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	result, err := c.pipeline.Ingest(ctx, sample)
	if err != nil {
		c.logger.Printf("mqtt consumer: ingest error: device=%s: %v", deviceID, err)
		return
	}
	for _, isolated := range result.Errors {
		c.logger.Printf("mqtt consumer: ingest warning: device=%s: %v", deviceID, isolated)
	}
}

// extractDeviceID pulls the device id out of devices/{device_id}/heartbeat.
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "devices" || parts[2] != "heartbeat" {
		return ""
	}
	return parts[1]
}
