package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	alarms "agrisense-cloud/internal/alarms/domain"
)

const deviceType = "ESP32_SENSOR_NODE"

type webhookPayload struct {
	Alert     webhookAlert    `json:"alert"`
	Device    DeviceInfo      `json:"device"`
	Severity  alarms.Severity `json:"severity"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

type webhookAlert struct {
	ID           string   `json:"id"`
	DeviceID     string   `json:"device_id"`
	Parameter    string   `json:"parameter"`
	CurrentValue float64  `json:"current_value"`
	ThresholdMin *float64 `json:"threshold_min"`
	ThresholdMax *float64 `json:"threshold_max"`
	AlertTypes   []string `json:"alert_types"`
	Message      string   `json:"message"`
	CreatedAt    string   `json:"created_at"`
}

// WebhookChannel posts alerts to an HTTP endpoint.
type WebhookChannel struct {
	url    string
	client *resty.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithBearerToken authenticates requests.
func WithBearerToken(token string) WebhookOption {
	return func(ch *WebhookChannel) {
		if token != "" {
			ch.client.SetAuthToken(token)
		}
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if timeout > 0 {
			ch.client.SetTimeout(timeout)
		}
	}
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(count int) WebhookOption {
	return func(ch *WebhookChannel) {
		if count >= 0 {
			ch.client.SetRetryCount(count)
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json")
	channel := &WebhookChannel{url: url, client: client}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts msg as JSON. Non-2xx responses are errors.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	payload := webhookPayload{
		Alert: webhookAlert{
			ID:           msg.Alert.ID,
			DeviceID:     msg.Alert.DeviceID,
			Parameter:    string(msg.Alert.Parameter),
			CurrentValue: msg.Alert.CurrentValue,
			ThresholdMin: msg.Alert.ThresholdMin,
			ThresholdMax: msg.Alert.ThresholdMax,
			AlertTypes:   alertTypes(msg.Alert),
			Message:      msg.Alert.Message,
			CreatedAt:    msg.Alert.CreatedAt.UTC().Format(time.RFC3339),
		},
		Device:    msg.Device,
		Severity:  msg.Severity,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UTC(),
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode())
	}
	return nil
}

func alertTypes(alert alarms.Alert) []string {
	types := make([]string, 0, 2)
	if alert.NotifyEmail {
		types = append(types, "email")
	}
	if alert.NotifySMS {
		types = append(types, "sms")
	}
	return types
}
