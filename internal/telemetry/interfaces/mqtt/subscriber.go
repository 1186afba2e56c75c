package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"agrisense-cloud/internal/observability/metrics"
	"agrisense-cloud/internal/telemetry/application"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// Submitter accepts device readings.
type Submitter interface {
	SubmitPayload(ctx context.Context, payload application.ReadingPayload) (*telemetry.SensorReading, error)
}

// Options configures the broker connection.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	SubmitTimeout  time.Duration
	ConnectTimeout time.Duration
}

// Subscriber ingests readings published on agrisense/<deviceId>/readings.
type Subscriber struct {
	opts      Options
	submitter Submitter
	logger    *zap.Logger
	client    paho.Client
}

// NewSubscriber constructs a subscriber. Start connects to the broker.
func NewSubscriber(opts Options, submitter Submitter, logger *zap.Logger) (*Subscriber, error) {
	if submitter == nil {
		return nil, errors.New("mqtt: nil submitter")
	}
	if opts.Broker == "" {
		return nil, errors.New("mqtt: empty broker")
	}
	if opts.Topic == "" {
		opts.Topic = "agrisense/+/readings"
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{opts: opts, submitter: submitter, logger: logger}, nil
}

// Start connects and subscribes. Subscriptions are restored on reconnect.
func (s *Subscriber) Start() error {
	clientOpts := paho.NewClientOptions()
	clientOpts.AddBroker(s.opts.Broker)
	clientOpts.SetClientID(s.opts.ClientID)
	if s.opts.Username != "" {
		clientOpts.SetUsername(s.opts.Username)
	}
	if s.opts.Password != "" {
		clientOpts.SetPassword(s.opts.Password)
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)
	clientOpts.SetConnectTimeout(s.opts.ConnectTimeout)
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		token := client.Subscribe(s.opts.Topic, s.opts.QoS, s.onMessage)
		if token.WaitTimeout(s.opts.ConnectTimeout) && token.Error() != nil {
			s.logger.Error("mqtt: subscribe failed", zap.String("topic", s.opts.Topic), zap.Error(token.Error()))
			return
		}
		s.logger.Info("mqtt: subscribed", zap.String("topic", s.opts.Topic))
	})
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("mqtt: connection lost", zap.Error(err))
	})

	s.client = paho.NewClient(clientOpts)
	token := s.client.Connect()
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		return fmt.Errorf("mqtt: connect to %s timed out", s.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect to %s: %w", s.opts.Broker, err)
	}
	return nil
}

// Stop unsubscribes and disconnects.
func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.opts.Topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SubmitTimeout)
	defer cancel()
	if err := s.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
		s.logger.Warn("mqtt: reading rejected", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// HandleMessage decodes one payload and submits it.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest("mqtt", result, time.Since(start))
	}()

	decoded, err := application.DecodeReadingPayload(payload)
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("invalid_json")
		return fmt.Errorf("mqtt: decode payload: %w", err)
	}
	if id := DeviceIDFromTopic(topic); id != "" {
		decoded.DeviceID = id
	}
	if _, err := s.submitter.SubmitPayload(ctx, decoded); err != nil {
		result = metrics.ResultError
		return err
	}
	return nil
}

// DeviceIDFromTopic extracts the device id from agrisense/<deviceId>/readings.
func DeviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[2] != "readings" {
		return ""
	}
	return parts[1]
}
