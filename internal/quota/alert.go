package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Alert describes a quota threshold crossing, delivered best-effort to every
// configured channel. Channel failures are logged but never affect the
// admission outcome that triggered the alert.
type Alert struct {
	UserID      string    `json:"user_id"`
	Resource    string    `json:"resource"`
	Threshold   float64   `json:"threshold"`
	UsagePct    float64   `json:"usage_percent"`
	Consumed    uint64    `json:"consumed"`
	Limit       uint64    `json:"limit"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Channel delivers an Alert somewhere. Grounded on the teacher's
// pkg/events.EventHandler interface (Handle(Event) error) in shape and on
// pkg/events.EventBus.Publish for fan-out semantics.
type Channel interface {
	Send(ctx context.Context, alert Alert) error
}

// LogChannel emits the alert as a structured warning log line.
type LogChannel struct {
	Logger *zap.Logger
}

func (c LogChannel) Send(_ context.Context, a Alert) error {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("quota threshold crossed",
		zap.String("user_id", a.UserID),
		zap.String("resource", a.Resource),
		zap.Float64("threshold", a.Threshold),
		zap.Float64("usage_percent", a.UsagePct),
		zap.Uint64("consumed", a.Consumed),
		zap.Uint64("limit", a.Limit),
	)
	return nil
}

// WebhookChannel posts the alert as a JSON body to a fixed URL.
type WebhookChannel struct {
	URL    string
	Client *http.Client
}

func (c WebhookChannel) Send(ctx context.Context, a Alert) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// bus fans an Alert out to every registered Channel, swallowing and logging
// individual channel errors so alerting never blocks or fails admission.
// Grounded on the teacher's pkg/events.EventBus.
type bus struct {
	channels []Channel
	logger   *zap.Logger
}

func newBus(logger *zap.Logger, channels ...Channel) *bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &bus{channels: channels, logger: logger}
}

func (b *bus) publish(ctx context.Context, a Alert) {
	for _, ch := range b.channels {
		if err := ch.Send(ctx, a); err != nil {
			b.logger.Warn("quota alert channel failed", zap.Error(err))
		}
	}
}
