// Package notify posts call lifecycle events to an agent-desktop webhook.
// Delivery is best effort: orchestration never blocks on, or fails from, a
// notification.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dialcast/dialcast/internal/store"
)

// GroupEventPayload is the webhook body for a dial group event.
type GroupEventPayload struct {
	Event         string    `json:"event"`
	GroupID       string    `json:"group_id"`
	QueueID       string    `json:"queue_id,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	Status        string    `json:"status"`
	WinnerCallRef string    `json:"winner_call_ref,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// TransferEventPayload is the webhook body for a transfer event.
type TransferEventPayload struct {
	Event          string    `json:"event"`
	TransferID     string    `json:"transfer_id"`
	ConferenceName string    `json:"conference_name"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	StatusDetail   string    `json:"status_detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Client posts events to the configured webhook URL.
type Client struct {
	httpClient *http.Client
	webhookURL string
	logger     *slog.Logger
}

// NewClient creates a webhook notifier. An empty webhookURL yields an
// unconfigured client whose sends are no-ops.
func NewClient(webhookURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		webhookURL: webhookURL,
		logger:     logger.With("subsystem", "notify"),
	}
}

// Configured reports whether a webhook URL is set.
func (c *Client) Configured() bool { return c.webhookURL != "" }

// GroupEvent posts a dial group lifecycle event.
func (c *Client) GroupEvent(ctx context.Context, event string, g *store.Group) {
	if !c.Configured() {
		return
	}
	payload := GroupEventPayload{
		Event:         "group." + event,
		GroupID:       g.ID,
		QueueID:       g.QueueID,
		AgentID:       g.AgentID,
		Status:        string(g.Status),
		WinnerCallRef: g.WinnerCallRef,
		Timestamp:     time.Now(),
	}
	if err := c.post(ctx, payload); err != nil {
		c.logger.Warn("group event delivery failed", "event", payload.Event, "group_id", g.ID, "error", err)
		return
	}
	c.logger.Debug("group event delivered", "event", payload.Event, "group_id", g.ID)
}

// TransferEvent posts a transfer lifecycle event.
func (c *Client) TransferEvent(ctx context.Context, event string, t *store.Transfer) {
	if !c.Configured() {
		return
	}
	payload := TransferEventPayload{
		Event:          "transfer." + event,
		TransferID:     t.ID,
		ConferenceName: t.ConferenceName,
		Type:           string(t.Type),
		Status:         string(t.Status),
		StatusDetail:   t.StatusDetail,
		Timestamp:      time.Now(),
	}
	if err := c.post(ctx, payload); err != nil {
		c.logger.Warn("transfer event delivery failed", "event", payload.Event, "transfer_id", t.ID, "error", err)
		return
	}
	c.logger.Debug("transfer event delivered", "event", payload.Event, "transfer_id", t.ID)
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshalling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
