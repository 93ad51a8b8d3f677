package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook posts a generic JSON payload to a user-supplied URL. The frame, if
// any, is inlined as base64.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: deliveryTimeout}}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, a Alert) error {
	url := w.url
	if a.Target != "" {
		url = a.Target
	}
	payload := map[string]any{
		"title":     a.Title,
		"message":   a.Body,
		"priority":  a.Priority,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(a.Photo) > 0 {
		payload["image_base64"] = base64.StdEncoding.EncodeToString(a.Photo)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, body)
	}
	return nil
}
