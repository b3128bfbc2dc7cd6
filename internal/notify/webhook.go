package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// WebhookSink posts each event as a JSON body to a fixed URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink returns nil when url is empty.
func NewWebhookSink(url string) *WebhookSink {
	if url == "" {
		return nil
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

type webhookPayload struct {
	Content string `json:"content"`
	Event   Event  `json:"event"`
}

func (w *WebhookSink) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookPayload{Content: fmt.Sprintf("[%s] %s", ev.Subject, ev.Message), Event: ev})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}
