package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "sebastian/pkg/logx"
)

// LogDeliverer writes notifications to the structured log.
type LogDeliverer struct {
	log logx.Logger
}

func NewLogDeliverer(log logx.Logger) *LogDeliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogDeliverer{log: log}
}

func (d *LogDeliverer) Name() string { return "log" }

func (d *LogDeliverer) Deliver(_ context.Context, m Message) error {
	d.log.Info("alarm due",
		logx.String("alarm_id", m.AlarmID),
		logx.String("title", m.Title),
		logx.String("time_label", m.TimeLabel),
		logx.String("next_fire_time", m.NextFireTime),
		logx.Bool("repeating", m.Repeating),
	)
	return nil
}

type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// WebhookDeliverer POSTs the Message as JSON. Any non-2xx response is an error.
type WebhookDeliverer struct {
	cfg    WebhookConfig
	client *http.Client
}

func NewWebhookDeliverer(cfg WebhookConfig) (*WebhookDeliverer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("webhook url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &WebhookDeliverer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (d *WebhookDeliverer) Name() string { return "webhook" }

func (d *WebhookDeliverer) Deliver(ctx context.Context, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook: http=%d", resp.StatusCode)
	}
	return nil
}
