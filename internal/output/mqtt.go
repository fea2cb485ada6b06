package output

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/observability/metrics"
)

// MQTTConfig holds the configuration for the MQTT result sink.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic is the base topic. Full results go to <Topic>/result, split
	// channels to <Topic>/<channel>.
	Topic         string
	Retain        bool
	QoS           byte
	Encoding      Encoding
	SplitChannels bool

	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultMQTTConfig returns a config with reasonable timeouts.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:            "tcp://localhost:1883",
		ClientID:          "pitchnet",
		Topic:             "pitchnet",
		Encoding:          EncodingJSON,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    5 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// MQTTSink publishes results to an MQTT broker.
type MQTTSink struct {
	config  MQTTConfig
	client  mqtt.Client
	metrics *metrics.MQTTMetrics
	mu      sync.Mutex
	log     logger.Logger
}

// NewMQTTSink creates an unconnected sink. m may be nil.
func NewMQTTSink(cfg MQTTConfig, m *metrics.MQTTMetrics) (*MQTTSink, error) {
	def := DefaultMQTTConfig()
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is required").
			Component("output").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if cfg.QoS > 2 {
		return nil, errors.Newf("invalid mqtt qos %d", cfg.QoS).
			Component("output").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	return &MQTTSink{
		config:  cfg,
		metrics: m,
		log:     GetLogger().Module("mqtt"),
	}, nil
}

// Connect resolves the broker host and connects. Paho reconnects on its own
// after a successful first connection.
func (s *MQTTSink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := url.Parse(s.config.Broker)
	if err != nil {
		return s.connectError(fmt.Errorf("invalid broker URL: %w", err))
	}
	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return s.connectError(fmt.Errorf("failed to resolve hostname %s: %w", host, err))
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.config.Broker)
	opts.SetClientID(s.config.ClientID)
	opts.SetUsername(s.config.Username)
	opts.SetPassword(s.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(s.config.ConnectTimeout)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(s.onReconnecting)

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if err := waitToken(ctx, token, s.config.ConnectTimeout); err != nil {
		return s.connectError(err)
	}
	return nil
}

func (s *MQTTSink) connectError(err error) error {
	if s.metrics != nil {
		s.metrics.IncrementErrors()
	}
	return errors.New(err).
		Component("output").
		Category(errors.CategoryMQTTConnect).
		Context("broker", s.config.Broker).
		Build()
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Write publishes r as one message, or as three channel messages in the
// order amplitude, confidence, pitch.
func (s *MQTTSink) Write(ctx context.Context, r inference.Result) error {
	if !s.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("output").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	if !s.config.SplitChannels {
		payload, err := s.config.Encoding.Encode(r)
		if err != nil {
			return err
		}
		return s.publish(ctx, s.config.Topic+"/result", payload)
	}

	for _, ch := range SplitChannels(r) {
		payload, err := s.config.Encoding.EncodeChannel(r.Sequence, ch)
		if err != nil {
			return err
		}
		if err := s.publish(ctx, s.config.Topic+"/"+ch.Name, payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *MQTTSink) publish(ctx context.Context, topic string, payload []byte) error {
	var timer *metrics.PublishTimer
	if s.metrics != nil {
		timer = s.metrics.StartPublishTimer()
	}

	token := s.client.Publish(topic, s.config.QoS, s.config.Retain, payload)
	if err := waitToken(ctx, token, s.config.PublishTimeout); err != nil {
		if s.metrics != nil {
			s.metrics.IncrementErrors()
		}
		return errors.New(err).
			Component("output").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	if s.metrics != nil {
		timer.ObserveDuration()
		s.metrics.IncrementMessagesDelivered(len(payload))
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether the client has a live connection.
func (s *MQTTSink) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.IsConnected()
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(uint(s.config.DisconnectTimeout.Milliseconds()))
		if s.metrics != nil {
			s.metrics.UpdateConnectionStatus(false)
		}
	}
	return nil
}

func (s *MQTTSink) onConnect(_ mqtt.Client) {
	s.log.Info("connected to MQTT broker", logger.String("broker", s.config.Broker))
	if s.metrics != nil {
		s.metrics.UpdateConnectionStatus(true)
	}
}

func (s *MQTTSink) onConnectionLost(_ mqtt.Client, err error) {
	s.log.Warn("connection to MQTT broker lost",
		logger.String("broker", s.config.Broker),
		logger.Error(err))
	if s.metrics != nil {
		s.metrics.UpdateConnectionStatus(false)
		s.metrics.IncrementErrors()
	}
}

func (s *MQTTSink) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	s.log.Debug("reconnecting to MQTT broker", logger.String("broker", s.config.Broker))
	if s.metrics != nil {
		s.metrics.IncrementReconnectAttempts()
	}
}
