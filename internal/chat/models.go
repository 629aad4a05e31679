// Package chat coordinates the patient chat channel: lazy channel creation,
// message send and pagination, member listing, and notification-level
// reconciliation between local storage and the external chat service.
package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	chatcontract "carelink/contracts/chat"
	id "carelink/pkg/domain"
)

// ExternalService is the narrow contract this core requires from the
// external chat provider. The resty client implements it; tests fake it.
type ExternalService interface {
	CreateChannel(ctx context.Context, channelID id.ChannelID, creatorID id.UserID, memberIDs []id.UserID) error
	SendMessage(ctx context.Context, channelID id.ChannelID, tenant string, req chatcontract.SendMessageRequest) (chatcontract.MessageInfo, error)
	History(ctx context.Context, channelID id.ChannelID, tenant string, userID id.UserID, limit int, cursor string) (chatcontract.HistoryResponse, error)
	Members(ctx context.Context, channelID id.ChannelID, tenant string, limit, offset int) (chatcontract.MembersResponse, error)
	AddMembers(ctx context.Context, channelID id.ChannelID, tenant string, memberIDs []id.UserID) error
	RemoveMembers(ctx context.Context, channelID id.ChannelID, tenant string, memberIDs []id.UserID) error
	Status(ctx context.Context, channelID id.ChannelID, tenant string, userID id.UserID) (chatcontract.ChannelStatusResponse, error)
	SetNotificationLevel(ctx context.Context, channelID id.ChannelID, tenant string, userID id.UserID, level id.NotificationLevel) error
	WatchReadReceipts(ctx context.Context, tenant string, userID id.UserID) (string, error)
	Unwatch(ctx context.Context, tenant string, subscriptionID string) error
}

// Message is one resolved timeline entry.
type Message struct {
	ID          string
	ChannelID   id.ChannelID
	SenderID    id.UserID
	SenderName  string
	Text        string
	Metadata    map[string]string
	Cursor      string
	CreatedAt   time.Time
	Status      string
}

// HistoryPage is one page of messages plus pagination state.
type HistoryPage struct {
	Messages    []Message
	NextCursor  string
	HasNext     bool
	UnreadCount int
}

// Member is one resolved channel member.
type Member struct {
	UserID      id.UserID
	DisplayName string
	ProfileURL  string
}

// MemberPage is one page of members plus pagination state.
type MemberPage struct {
	Members    []Member
	NextOffset int
	HasNext    bool
}

// Summary is the per-caller channel state attached to a patient.
type Summary struct {
	ChannelID           id.ChannelID
	EnableChat          bool
	LocationChatEnabled bool
	UnreadCount         int
	NotificationLevel   id.NotificationLevel
}

const cursorPrefix = "order:"

// EncodeCursor derives the opaque pagination cursor from a message sequence
// order.
func EncodeCursor(order int64) string {
	return cursorPrefix + strconv.FormatInt(order, 10)
}

// ParseCursor extracts the sequence order from a cursor. An empty cursor
// means "from the latest".
func ParseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(cursor, cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	return strconv.ParseInt(raw, 10, 64)
}
