package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ntfy posts to an ntfy topic. With a photo the JPEG is the body and the text
// rides in headers; ntfy renders it as an attachment.
type Ntfy struct {
	server string
	topic  string
	client *http.Client
}

func NewNtfy(server, topic string) *Ntfy {
	if server == "" {
		server = "https://ntfy.sh"
	}
	return &Ntfy{
		server: strings.TrimRight(server, "/"),
		topic:  topic,
		client: &http.Client{Timeout: deliveryTimeout},
	}
}

func (n *Ntfy) Name() string { return "ntfy" }

func ntfyPriority(priority string) string {
	switch priority {
	case "CRITICAL":
		return "urgent"
	case "HIGH":
		return "high"
	case "LOW":
		return "low"
	default:
		return "default"
	}
}

func (n *Ntfy) Send(ctx context.Context, a Alert) error {
	topic := n.topic
	if a.Target != "" {
		topic = a.Target
	}
	url := n.server + "/" + topic

	var body io.Reader
	if len(a.Photo) > 0 {
		body = bytes.NewReader(a.Photo)
	} else {
		body = strings.NewReader(a.Body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Title", headerSafe(a.Title))
	req.Header.Set("Priority", ntfyPriority(a.Priority))
	if len(a.Photo) > 0 {
		req.Header.Set("Filename", "frame.jpg")
		if a.Body != "" {
			req.Header.Set("Message", headerSafe(a.Body))
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ntfy: status %d: %s", resp.StatusCode, data)
	}
	return nil
}

// headerSafe strips newlines; HTTP headers cannot carry them.
func headerSafe(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
