// Package mqttpub publishes Doppler corrections and telemetry records to an
// MQTT broker as JSON messages.
package mqttpub

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/signalsfoundry/groundlink/internal/doppler"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/model"
)

// ErrInvalidConfiguration is returned by New for unusable settings.
var ErrInvalidConfiguration = errors.New("mqttpub: invalid configuration")

const (
	defaultTopicPrefix    = "groundlink"
	defaultPublishTimeout = 5 * time.Second
)

// Config describes the broker connection and topic layout.
type Config struct {
	Broker         string        `yaml:"broker"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	Retain         bool          `yaml:"retain"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig holds optional TLS material paths.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = defaultTopicPrefix
	}
	c.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	if c.ClientID == "" {
		c.ClientID = "groundlink_" + uuid.NewString()[:8]
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("%w: qos %d not in 0..2", ErrInvalidConfiguration, c.QoS)
	}
	return nil
}

// ShiftMessage is the payload published for each Doppler correction.
type ShiftMessage struct {
	GroundStationID string        `json:"ground_station_id,omitempty"`
	PlanID          string        `json:"plan_id,omitempty"`
	Shift           doppler.Shift `json:"shift"`
}

// TelemetryMessage is the payload published for each telemetry record.
type TelemetryMessage struct {
	GroundStationID string                `json:"ground_station_id,omitempty"`
	Record          model.TelemetryRecord `json:"record"`
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

// WithLabels tags every message with a ground station and plan.
func WithLabels(groundStationID, planID string) Option {
	return func(p *Publisher) {
		p.groundStationID = groundStationID
		p.planID = planID
	}
}

// Publisher sends JSON messages to topics under the configured prefix.
type Publisher struct {
	client mqtt.Client
	cfg    Config
	log    logging.Logger

	groundStationID string
	planID          string
}

// New connects to the broker and returns a Publisher.
func New(cfg Config, opts ...Option) (*Publisher, error) {
	cfg.ApplyDefaults()
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%w: broker is required", ErrInvalidConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Publisher{cfg: cfg, log: logging.Noop()}
	for _, opt := range opts {
		opt(p)
	}

	mo := mqtt.NewClientOptions()
	mo.AddBroker(cfg.Broker)
	mo.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		mo.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		mo.SetPassword(cfg.Password)
	}
	mo.SetAutoReconnect(true)
	mo.SetConnectRetry(true)
	mo.SetConnectRetryInterval(10 * time.Second)
	mo.SetKeepAlive(60 * time.Second)
	mo.SetPingTimeout(10 * time.Second)

	if cfg.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		mo.SetTLSConfig(tlsConfig)
	}

	ctx := context.Background()
	mo.SetOnConnectHandler(func(mqtt.Client) {
		p.log.Info(ctx, "mqtt connected", logging.String("broker", cfg.Broker))
	})
	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn(ctx, "mqtt connection lost", logging.Err(err))
	})
	mo.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		p.log.Info(ctx, "mqtt reconnecting")
	})

	client := mqtt.NewClient(mo)
	if token := client.Connect(); token.WaitTimeout(cfg.PublishTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("mqttpub: connect to %s: %w", cfg.Broker, token.Error())
	}
	p.client = client
	return p, nil
}

// NewWithClient wraps an existing client. The caller owns its connection.
func NewWithClient(client mqtt.Client, cfg Config, opts ...Option) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfiguration)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Publisher{client: client, cfg: cfg, log: logging.Noop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ShiftTopic is the topic Doppler corrections are published to.
func (p *Publisher) ShiftTopic() string {
	return p.cfg.TopicPrefix + "/doppler"
}

// TelemetryTopic is the topic telemetry for a plan is published to.
func (p *Publisher) TelemetryTopic(planID string) string {
	if planID == "" {
		planID = "unassigned"
	}
	return p.cfg.TopicPrefix + "/telemetry/" + planID
}

// PublishShift implements doppler.Publisher.
func (p *Publisher) PublishShift(ctx context.Context, s doppler.Shift) error {
	return p.publish(ctx, p.ShiftTopic(), ShiftMessage{
		GroundStationID: p.groundStationID,
		PlanID:          p.planID,
		Shift:           s,
	})
}

// Send implements relay.Sink for telemetry records.
func (p *Publisher) Send(ctx context.Context, rec model.TelemetryRecord) error {
	return p.publish(ctx, p.TelemetryTopic(rec.PlanID), TelemetryMessage{
		GroundStationID: p.groundStationID,
		Record:          rec,
	})
}

func (p *Publisher) publish(ctx context.Context, topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqttpub: marshal %s: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, data)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqttpub: publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqttpub: publish to %s: %w", topic, ctx.Err())
	}
}

// Close disconnects from the broker, waiting up to quiesce for in-flight work.
func (p *Publisher) Close(quiesce time.Duration) {
	p.client.Disconnect(uint(quiesce / time.Millisecond))
}

func loadTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	config := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("mqttpub: read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("%w: CA certificate %s has no PEM blocks", ErrInvalidConfiguration, cfg.CACert)
		}
		config.RootCAs = pool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("mqttpub: load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}
