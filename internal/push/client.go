package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"

	"carelink/internal/platform/config"
	id "carelink/pkg/domain"
)

// Client talks to the push-notification gateway over HTTP.
type Client struct {
	http   *resty.Client
	hub    string
	logger *slog.Logger
}

// NewClient constructs a gateway client.
func NewClient(cfg config.PushConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")
	return &Client{
		http:   httpClient,
		hub:    cfg.HubName,
		logger: logger.With("component", "push-client"),
	}
}

type sendRequest struct {
	Hub     string  `json:"hub"`
	UserID  string  `json:"user_id"`
	Payload Payload `json:"payload"`
}

// Send posts one notification to the gateway.
func (c *Client) Send(ctx context.Context, userID id.UserID, payload Payload) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendRequest{Hub: c.hub, UserID: userID.String(), Payload: payload}).
		Post("/v1/notifications")
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("push send: gateway returned %d", resp.StatusCode())
	}
	c.logger.Debug("push delivered", "user_id", userID.String(), "type", string(payload.Type))
	return nil
}
