// Package host holds the collaborators the tray borrows from the device:
// launching another app's activity and driving the camera flash.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Activity asks another app to handle a named action, e.g. opening the
// settings app on its developer panel.
type Activity struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// ActivityLauncher hands an activity off. A returned error is an activity
// failure; callers log it and move on.
type ActivityLauncher interface {
	Launch(ctx context.Context, a Activity) error
}

// WebhookLauncher posts activities as JSON to a URL served by the host shell.
type WebhookLauncher struct {
	URL    string
	Client *http.Client
}

// NewWebhookLauncher returns a launcher posting to url with a 10s timeout.
func NewWebhookLauncher(url string) *WebhookLauncher {
	return &WebhookLauncher{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (l *WebhookLauncher) Launch(ctx context.Context, a Activity) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshalling activity: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.Client.Do(req)
	if err != nil {
		return fmt.Errorf("launching %s: %w", a.Name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("launching %s: host returned status %d", a.Name, resp.StatusCode)
	}
	return nil
}

// LogLauncher records activities in the log and always succeeds. Used when
// no host shell endpoint is configured.
type LogLauncher struct {
	Logger *slog.Logger
}

func (l LogLauncher) Launch(_ context.Context, a Activity) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("activity requested", "name", a.Name, "data", a.Data)
	return nil
}
