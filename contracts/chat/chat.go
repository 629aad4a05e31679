// Package chat defines the wire contract of the external chat service.
//
// The types here are shared between the service client and the standalone
// mock server, so this module stays dependency-free.
package chat

// CreateChannelRequest creates a group conversation with an initial roster.
type CreateChannelRequest struct {
	ChannelID string   `json:"channel_id"`
	CreatorID string   `json:"creator_id"`
	MemberIDs []string `json:"member_ids"`
}

// SendMessageRequest posts one message to a channel.
type SendMessageRequest struct {
	Tenant   string            `json:"tenant"`
	SenderID string            `json:"sender_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MessageInfo is the service's record of a delivered message.
type MessageInfo struct {
	ID        string            `json:"id"`
	Order     int64             `json:"order"`
	SenderID  string            `json:"sender_id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
	Status    string            `json:"status"`
}

// PageInfo carries pagination state for history and member listings.
type PageInfo struct {
	HasNext    bool   `json:"has_next"`
	NextCursor string `json:"next_cursor,omitempty"`
	NextOffset int    `json:"next_offset,omitempty"`
}

// HistoryResponse is a page of channel messages plus the caller's unread count.
type HistoryResponse struct {
	Edges       []MessageInfo `json:"edges"`
	PageInfo    PageInfo      `json:"page_info"`
	UnreadCount int           `json:"unread_count"`
}

// MemberInfo is one channel membership entry. Nickname and ProfileURL may be
// empty when the member never completed profile setup.
type MemberInfo struct {
	UserID     string `json:"user_id"`
	Nickname   string `json:"nickname"`
	ProfileURL string `json:"profile_url,omitempty"`
	Active     bool   `json:"active"`
}

// MembersResponse is a page of channel members.
type MembersResponse struct {
	Edges    []MemberInfo `json:"edges"`
	PageInfo PageInfo     `json:"page_info"`
}

// MembershipRequest adds or removes members from a channel.
type MembershipRequest struct {
	Tenant    string   `json:"tenant"`
	MemberIDs []string `json:"member_ids"`
}

// ChannelStatusResponse reports per-user channel state.
type ChannelStatusResponse struct {
	UnreadCount       int    `json:"unread_count"`
	NotificationLevel string `json:"notification_level"`
}

// NotificationLevelRequest sets one member's notification level.
type NotificationLevelRequest struct {
	Tenant string `json:"tenant"`
	UserID string `json:"user_id"`
	Level  string `json:"level"`
}

// WatchRequest registers a read-receipt watch for a user.
type WatchRequest struct {
	Tenant string `json:"tenant"`
	UserID string `json:"user_id"`
}

// WatchResponse returns the watch subscription handle.
type WatchResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

// ReadReceiptEvent is delivered for each message-read acknowledgement.
type ReadReceiptEvent struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	ReadUpTo  int64  `json:"read_up_to"`
	At        string `json:"at"`
}

// ErrorResponse is the service's uniform error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
