package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldops-dev/fieldops/internal/models"
)

// WebhookSender delivers status-change events to a configured external
// endpoint, authenticated with a bearer secret. The HTTP client carries its
// own timeout so a slow sink cannot stall anything upstream.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Event      string           `json:"event"`
	JobID      string           `json:"jobId"`
	Status     models.JobStatus `json:"status"`
	ActorID    string           `json:"actorId"`
	Source     string           `json:"source"`
	Reason     string           `json:"reason,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

func (w *WebhookSender) Send(ctx context.Context, ev models.JobEvent) error {
	payload, err := json.Marshal(webhookPayload{
		Event:      ev.Type,
		JobID:      ev.JobID,
		Status:     ev.Status,
		ActorID:    ev.ActorID,
		Source:     string(ev.Source),
		Reason:     ev.Reason,
		OccurredAt: ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.secret)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink returned status %d", resp.StatusCode)
	}
	return nil
}
