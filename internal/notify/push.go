package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PushNotification is the payload handed to the token-addressed push relay.
type PushNotification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type pushRequest struct {
	Token string `json:"token"`
	PushNotification
}

// PushSender posts notifications to the push relay endpoint. The relay owns
// actual device delivery; this side only hands over token plus payload.
type PushSender struct {
	endpoint string
	client   *http.Client
}

func NewPushSender(endpoint string, timeout time.Duration) *PushSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PushSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *PushSender) Send(ctx context.Context, token string, n PushNotification) error {
	payload, err := json.Marshal(pushRequest{Token: token, PushNotification: n})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push relay returned status %d", resp.StatusCode)
	}
	return nil
}
