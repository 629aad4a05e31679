// Package client implements the external chat-service contract over HTTP.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"

	chatcontract "carelink/contracts/chat"
	"carelink/internal/platform/config"
	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// Client talks to the external chat service.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New constructs a chat-service client.
func New(cfg config.ChatConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetAuthToken(cfg.APIToken).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{
		http:   httpClient,
		logger: logger.With("component", "chat-client"),
	}
}

func (c *Client) checkStatus(resp *resty.Response, op string) error {
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return sentinel.ErrNotFound
	case resp.StatusCode() >= http.StatusBadRequest:
		return fmt.Errorf("chat %s: service returned %d", op, resp.StatusCode())
	default:
		return nil
	}
}

// CreateChannel creates a group conversation with an initial roster.
func (c *Client) CreateChannel(ctx context.Context, channelID id.ChannelID, creatorID id.UserID, memberIDs []id.UserID) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatcontract.CreateChannelRequest{
			ChannelID: string(channelID),
			CreatorID: creatorID.String(),
			MemberIDs: userIDStrings(memberIDs),
		}).
		Post("/v1/channels")
	if err != nil {
		return fmt.Errorf("chat create channel: %w", err)
	}
	return c.checkStatus(resp, "create channel")
}

// SendMessage posts one message and returns the service's record of it.
func (c *Client) SendMessage(ctx context.Context, channelID id.ChannelID, tenant string, req chatcontract.SendMessageRequest) (chatcontract.MessageInfo, error) {
	req.Tenant = tenant
	var info chatcontract.MessageInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&info).
		Post(fmt.Sprintf("/v1/channels/%s/messages", channelID))
	if err != nil {
		return chatcontract.MessageInfo{}, fmt.Errorf("chat send message: %w", err)
	}
	if err := c.checkStatus(resp, "send message"); err != nil {
		return chatcontract.MessageInfo{}, err
	}
	return info, nil
}

// History fetches one page of messages for a user.
func (c *Client) History(ctx context.Context, channelID id.ChannelID, tenant string, userID id.UserID, limit int, cursor string) (chatcontract.HistoryResponse, error) {
	var page chatcontract.HistoryResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tenant":  tenant,
			"user_id": userID.String(),
			"limit":   fmt.Sprintf("%d", limit),
			"cursor":  cursor,
		}).
		SetResult(&page).
		Get(fmt.Sprintf("/v1/channels/%s/messages", channelID))
	if err != nil {
		return chatcontract.HistoryResponse{}, fmt.Errorf("chat history: %w", err)
	}
	if err := c.checkStatus(resp, "history"); err != nil {
		return chatcontract.HistoryResponse{}, err
	}
	return page, nil
}

// Members fetches one page of channel members.
func (c *Client) Members(ctx context.Context, channelID id.ChannelID, tenant string, limit, offset int) (chatcontract.MembersResponse, error) {
	var page chatcontract.MembersResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tenant": tenant,
			"limit":  fmt.Sprintf("%d", limit),
			"offset": fmt.Sprintf("%d", offset),
		}).
		SetResult(&page).
		Get(fmt.Sprintf("/v1/channels/%s/members", channelID))
	if err != nil {
		return chatcontract.MembersResponse{}, fmt.Errorf("chat members: %w", err)
	}
	if err := c.checkStatus(resp, "members"); err != nil {
		return chatcontract.MembersResponse{}, err
	}
	return page, nil
}

// AddMembers joins users into an existing channel.
func (c *Client) AddMembers(ctx context.Context, channelID id.ChannelID, tenant string, memberIDs []id.UserID) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatcontract.MembershipRequest{Tenant: tenant, MemberIDs: userIDStrings(memberIDs)}).
		Post(fmt.Sprintf("/v1/channels/%s/members", channelID))
	if err != nil {
		return fmt.Errorf("chat add members: %w", err)
	}
	return c.checkStatus(resp, "add members")
}

// RemoveMembers removes users from a channel in one batched call.
func (c *Client) RemoveMembers(ctx context.Context, channelID id.ChannelID, tenant string, memberIDs []id.UserID) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatcontract.MembershipRequest{Tenant: tenant, MemberIDs: userIDStrings(memberIDs)}).
		Delete(fmt.Sprintf("/v1/channels/%s/members", channelID))
	if err != nil {
		return fmt.Errorf("chat remove members: %w", err)
	}
	return c.checkStatus(resp, "remove members")
}

// Status reports the caller's unread count and notification level.
func (c *Client) Status(ctx context.Context, channelID id.ChannelID, tenant string, userID id.UserID) (chatcontract.ChannelStatusResponse, error) {
	var status chatcontract.ChannelStatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"tenant": tenant, "user_id": userID.String()}).
		SetResult(&status).
		Get(fmt.Sprintf("/v1/channels/%s/status", channelID))
	if err != nil {
		return chatcontract.ChannelStatusResponse{}, fmt.Errorf("chat status: %w", err)
	}
	if err := c.checkStatus(resp, "status"); err != nil {
		return chatcontract.ChannelStatusResponse{}, err
	}
	return status, nil
}

// SetNotificationLevel sets one member's notification level.
func (c *Client) SetNotificationLevel(ctx context.Context, channelID id.ChannelID, tenant string, userID id.UserID, level id.NotificationLevel) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatcontract.NotificationLevelRequest{Tenant: tenant, UserID: userID.String(), Level: string(level)}).
		Put(fmt.Sprintf("/v1/channels/%s/notification-level", channelID))
	if err != nil {
		return fmt.Errorf("chat set notification level: %w", err)
	}
	return c.checkStatus(resp, "set notification level")
}

// WatchReadReceipts registers a read-receipt watch and returns its handle.
func (c *Client) WatchReadReceipts(ctx context.Context, tenant string, userID id.UserID) (string, error) {
	var watch chatcontract.WatchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatcontract.WatchRequest{Tenant: tenant, UserID: userID.String()}).
		SetResult(&watch).
		Post("/v1/read-receipts/watch")
	if err != nil {
		return "", fmt.Errorf("chat watch read receipts: %w", err)
	}
	if err := c.checkStatus(resp, "watch read receipts"); err != nil {
		return "", err
	}
	return watch.SubscriptionID, nil
}

// Unwatch cancels a read-receipt watch.
func (c *Client) Unwatch(ctx context.Context, tenant string, subscriptionID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("tenant", tenant).
		Delete(fmt.Sprintf("/v1/read-receipts/watch/%s", subscriptionID))
	if err != nil {
		return fmt.Errorf("chat unwatch: %w", err)
	}
	return c.checkStatus(resp, "unwatch")
}

func userIDStrings(ids []id.UserID) []string {
	out := make([]string, len(ids))
	for i, uid := range ids {
		out[i] = uid.String()
	}
	return out
}
