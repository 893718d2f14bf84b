// Package notify delivers orchestration events to humans. The only
// transport is an outbound webhook; anything fancier (Slack, email) hangs
// off the receiving end.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventStageAdvanced    EventType = "stage_advanced"
	EventRunCompleted     EventType = "run_completed"
	EventRunError         EventType = "run_error"
	EventDecisionRequired EventType = "decision_required"
	EventWorkerDead       EventType = "worker_dead"
	EventWorkerRecovered  EventType = "worker_recovered"
)

// Event is a single notification payload.
type Event struct {
	Type      EventType      `json:"type"`
	Severity  string         `json:"severity"`
	RunID     string         `json:"run_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier sends events somewhere a human will see them.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

// WebhookNotifier posts events as JSON to a single webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Nop discards events. Used when no webhook is configured, so callers never
// nil-check their notifier.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// FromConfig picks the notifier for the given webhook URL, logging the
// choice once at startup.
func FromConfig(webhookURL string) Notifier {
	if webhookURL == "" {
		zap.L().Info("notify: no webhook configured, notifications disabled")
		return Nop{}
	}
	return NewWebhookNotifier(webhookURL)
}
