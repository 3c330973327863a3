package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookProvider posts to a Slack incoming webhook.
type WebhookProvider struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, client *http.Client) *WebhookProvider {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookProvider{url: url, client: client}
}

type webhookPayload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

func (p *WebhookProvider) PostMessage(ctx context.Context, channelID string, message string) error {
	body, err := json.Marshal(webhookPayload{Channel: channelID, Text: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
