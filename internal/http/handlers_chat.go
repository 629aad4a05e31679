package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"carelink/internal/chat"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/requestcontext"
)

// ChatService is the channel surface the handler delegates to.
type ChatService interface {
	EnsureChannel(ctx context.Context, patientID id.PatientID, callerID id.UserID, role id.Role) (id.ChannelID, error)
	SendMessage(ctx context.Context, patientID id.PatientID, senderID id.UserID, role id.Role, text string, metadata map[string]string) (chat.Message, error)
	History(ctx context.Context, patientID id.PatientID, callerID id.UserID, limit int, cursor string) (chat.HistoryPage, error)
	Members(ctx context.Context, patientID id.PatientID, limit, offset int) (chat.MemberPage, error)
	Summary(ctx context.Context, patientID id.PatientID, callerID id.UserID) (chat.Summary, error)
	ChangeNotificationLevel(ctx context.Context, patientID id.PatientID, callerID id.UserID, level id.NotificationLevel) error
}

// ChatHandler serves the per-patient chat routes.
type ChatHandler struct {
	chat   ChatService
	logger *slog.Logger
}

// NewChatHandler constructs the chat handler.
func NewChatHandler(chat ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// Register mounts the chat routes (session-protected).
func (h *ChatHandler) Register(r chi.Router) {
	r.Route("/patients/{patientID}/chat", func(r chi.Router) {
		r.Post("/channel", h.handleEnsureChannel)
		r.Post("/messages", h.handleSendMessage)
		r.Get("/messages", h.handleHistory)
		r.Get("/members", h.handleMembers)
		r.Get("/summary", h.handleSummary)
		r.Put("/notification-level", h.handleNotificationLevel)
	})
}

func patientParam(r *http.Request) (id.PatientID, error) {
	return id.ParsePatientID(chi.URLParam(r, "patientID"))
}

func (h *ChatHandler) handleEnsureChannel(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientParam(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	ctx := r.Context()
	channelID, err := h.chat.EnsureChannel(ctx, patientID, requestcontext.UserID(ctx), requestcontext.Role(ctx))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"channel_id": string(channelID)})
}

type sendMessageRequest struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type messageResponse struct {
	ID         string            `json:"id"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Cursor     string            `json:"cursor"`
	CreatedAt  string            `json:"created_at"`
	Status     string            `json:"status,omitempty"`
}

func toMessageResponse(m chat.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		SenderID:   m.SenderID.String(),
		SenderName: m.SenderName,
		Text:       m.Text,
		Metadata:   m.Metadata,
		Cursor:     m.Cursor,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339Nano),
		Status:     m.Status,
	}
}

func (h *ChatHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientParam(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Text == "" {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "text is required"))
		return
	}
	ctx := r.Context()
	msg, err := h.chat.SendMessage(ctx, patientID, requestcontext.UserID(ctx), requestcontext.Role(ctx), req.Text, req.Metadata)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

type historyResponse struct {
	Messages    []messageResponse `json:"messages"`
	NextCursor  string            `json:"next_cursor,omitempty"`
	HasNext     bool              `json:"has_next"`
	UnreadCount int               `json:"unread_count"`
}

func (h *ChatHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientParam(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	limit := queryInt(r, "limit", 20)
	cursor := r.URL.Query().Get("cursor")
	page, err := h.chat.History(r.Context(), patientID, requestcontext.UserID(r.Context()), limit, cursor)
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := historyResponse{
		NextCursor:  page.NextCursor,
		HasNext:     page.HasNext,
		UnreadCount: page.UnreadCount,
		Messages:    make([]messageResponse, 0, len(page.Messages)),
	}
	for _, m := range page.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

type memberResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	ProfileURL  string `json:"profile_url,omitempty"`
}

type membersResponse struct {
	Members    []memberResponse `json:"members"`
	NextOffset int              `json:"next_offset,omitempty"`
	HasNext    bool             `json:"has_next"`
}

func (h *ChatHandler) handleMembers(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientParam(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	page, err := h.chat.Members(r.Context(), patientID, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := membersResponse{NextOffset: page.NextOffset, HasNext: page.HasNext, Members: make([]memberResponse, 0, len(page.Members))}
	for _, m := range page.Members {
		resp.Members = append(resp.Members, memberResponse{
			UserID:      m.UserID.String(),
			DisplayName: m.DisplayName,
			ProfileURL:  m.ProfileURL,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	ChannelID           string `json:"channel_id,omitempty"`
	EnableChat          bool   `json:"enable_chat"`
	LocationChatEnabled bool   `json:"location_chat_enabled"`
	UnreadCount         int    `json:"unread_count"`
	NotificationLevel   string `json:"notification_level"`
}

func (h *ChatHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientParam(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	summary, err := h.chat.Summary(r.Context(), patientID, requestcontext.UserID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		ChannelID:           string(summary.ChannelID),
		EnableChat:          summary.EnableChat,
		LocationChatEnabled: summary.LocationChatEnabled,
		UnreadCount:         summary.UnreadCount,
		NotificationLevel:   string(summary.NotificationLevel),
	})
}

type notificationLevelRequest struct {
	Level string `json:"level"`
}

func (h *ChatHandler) handleNotificationLevel(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientParam(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req notificationLevelRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	level, err := id.ParseNotificationLevel(req.Level)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := h.chat.ChangeNotificationLevel(r.Context(), patientID, requestcontext.UserID(r.Context()), level); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
