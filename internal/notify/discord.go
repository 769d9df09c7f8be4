package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const embedColor = 0x2ECC71 // green

// Discord delivers alerts to a Discord webhook. Delivery is best effort:
// failures are logged and swallowed, so a dead webhook can never take down a
// trading worker. An empty webhook URL disables delivery entirely.
type Discord struct {
	webhookURL string
	httpClient *http.Client
	enabled    bool
}

// NewDiscord creates a notifier. webhookURL may be empty to disable it.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		enabled:    webhookURL != "",
	}
}

// Notify sends one embed to the webhook. Fire-and-forget.
func (d *Discord) Notify(title, message string) {
	if !d.enabled {
		return
	}

	if err := d.send(title, message); err != nil {
		slog.Warn("Notification delivery failed",
			slog.String("title", title),
			slog.Any("error", err))
	}
}

func (d *Discord) send(title, message string) error {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": message,
				"color":       embedColor,
				"footer": map[string]string{
					"text": "KRW Trader",
				},
				"timestamp": time.Now().Format(time.RFC3339),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Post(d.webhookURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	return nil
}
