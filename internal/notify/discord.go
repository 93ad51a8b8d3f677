package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Discord delivers via a webhook. Photos go as a multipart attachment
// referenced by the embed's image field.
type Discord struct {
	webhookURL string
	client     *http.Client
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{webhookURL: webhookURL, client: &http.Client{Timeout: deliveryTimeout}}
}

func (d *Discord) Name() string { return "discord" }

func priorityColor(priority string) int {
	switch priority {
	case "CRITICAL":
		return 0xE74C3C
	case "HIGH":
		return 0xE67E22
	case "LOW":
		return 0x95A5A6
	default:
		return 0x3498DB
	}
}

func (d *Discord) Send(ctx context.Context, a Alert) error {
	url := d.webhookURL
	if a.Target != "" {
		url = a.Target
	}

	embed := map[string]any{
		"title":       a.Title,
		"description": a.Body,
		"color":       priorityColor(a.Priority),
	}
	if len(a.Photo) > 0 {
		embed["image"] = map[string]string{"url": "attachment://frame.jpg"}
	}
	payload := map[string]any{"embeds": []any{embed}}

	var req *http.Request
	var err error
	if len(a.Photo) > 0 {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		meta, _ := json.Marshal(payload)
		if err := writer.WriteField("payload_json", string(meta)); err != nil {
			return err
		}
		part, err := writer.CreateFormFile("files[0]", "frame.jpg")
		if err != nil {
			return err
		}
		if _, err := part.Write(a.Photo); err != nil {
			return err
		}
		if err := writer.Close(); err != nil {
			return err
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
	} else {
		data, _ := json.Marshal(payload)
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: status %d: %s", resp.StatusCode, data)
	}
	return nil
}
