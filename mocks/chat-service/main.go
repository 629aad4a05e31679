// Command chat-service is an in-memory stand-in for the external chat
// provider, speaking the same wire contract the production client does. It
// exists for local development and end-to-end testing; nothing survives a
// restart.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chatcontract "carelink/contracts/chat"
)

type channel struct {
	members  map[string]bool
	levels   map[string]string
	readUpTo map[string]int64
	messages []chatcontract.MessageInfo
}

type server struct {
	mu       sync.Mutex
	channels map[string]*channel
	watches  map[string]string
	nextSub  int
}

func newServer() *server {
	return &server{
		channels: make(map[string]*channel),
		watches:  make(map[string]string),
	}
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	s := newServer()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/channels", s.createChannel)
	mux.HandleFunc("POST /v1/channels/{id}/messages", s.sendMessage)
	mux.HandleFunc("GET /v1/channels/{id}/messages", s.history)
	mux.HandleFunc("GET /v1/channels/{id}/members", s.listMembers)
	mux.HandleFunc("POST /v1/channels/{id}/members", s.addMembers)
	mux.HandleFunc("DELETE /v1/channels/{id}/members", s.removeMembers)
	mux.HandleFunc("GET /v1/channels/{id}/status", s.status)
	mux.HandleFunc("PUT /v1/channels/{id}/notification-level", s.setLevel)
	mux.HandleFunc("POST /v1/channels/{id}/read", s.markRead)
	mux.HandleFunc("POST /v1/read-receipts/watch", s.watch)
	mux.HandleFunc("DELETE /v1/read-receipts/watch/{id}", s.unwatch)

	log.Printf("mock chat service listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, chatcontract.ErrorResponse{Code: code, Message: message})
}

func (s *server) channelOr404(w http.ResponseWriter, r *http.Request) (*channel, bool) {
	ch, ok := s.channels[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "channel_not_found", "unknown channel")
	}
	return ch, ok
}

func (s *server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req chatcontract.CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[req.ChannelID]; exists {
		writeError(w, http.StatusConflict, "channel_exists", "channel already exists")
		return
	}
	ch := &channel{
		members:  make(map[string]bool),
		levels:   make(map[string]string),
		readUpTo: make(map[string]int64),
	}
	ch.members[req.CreatorID] = true
	for _, m := range req.MemberIDs {
		ch.members[m] = true
	}
	s.channels[req.ChannelID] = ch
	writeJSON(w, http.StatusCreated, map[string]string{"channel_id": req.ChannelID})
}

func (s *server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req chatcontract.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channelOr404(w, r)
	if !ok {
		return
	}
	info := chatcontract.MessageInfo{
		ID:        fmt.Sprintf("msg-%d", len(ch.messages)+1),
		Order:     int64(len(ch.messages) + 1),
		SenderID:  req.SenderID,
		Text:      req.Text,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Status:    "delivered",
	}
	ch.messages = append(ch.messages, info)
	// The sender has read their own message.
	if info.Order > ch.readUpTo[req.SenderID] {
		ch.readUpTo[req.SenderID] = info.Order
	}
	writeJSON(w, http.StatusCreated, info)
}

func parseCursor(raw string) int64 {
	if n, err := strconv.ParseInt(strings.TrimPrefix(raw, "order:"), 10, 64); err == nil {
		return n
	}
	return 0
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channelOr404(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	before := parseCursor(r.URL.Query().Get("cursor"))
	userID := r.URL.Query().Get("user_id")

	// Newest first, older than the cursor when one is given.
	msgs := make([]chatcontract.MessageInfo, len(ch.messages))
	copy(msgs, ch.messages)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Order > msgs[j].Order })

	var edges []chatcontract.MessageInfo
	for _, m := range msgs {
		if before > 0 && m.Order >= before {
			continue
		}
		edges = append(edges, m)
		if len(edges) == limit+1 {
			break
		}
	}
	page := chatcontract.PageInfo{}
	if len(edges) > limit {
		edges = edges[:limit]
		page.HasNext = true
	}
	if len(edges) > 0 {
		page.NextCursor = "order:" + strconv.FormatInt(edges[len(edges)-1].Order, 10)
	}

	unread := 0
	for _, m := range ch.messages {
		if m.Order > ch.readUpTo[userID] {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, chatcontract.HistoryResponse{
		Edges:       edges,
		PageInfo:    page,
		UnreadCount: unread,
	})
}

func (s *server) listMembers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channelOr404(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	ids := make([]string, 0, len(ch.members))
	for m := range ch.members {
		ids = append(ids, m)
	}
	sort.Strings(ids)

	var edges []chatcontract.MemberInfo
	for i := offset; i < len(ids) && len(edges) < limit; i++ {
		edges = append(edges, chatcontract.MemberInfo{
			UserID:   ids[i],
			Nickname: "member-" + ids[i][:8],
			Active:   true,
		})
	}
	page := chatcontract.PageInfo{}
	if offset+len(edges) < len(ids) {
		page.HasNext = true
		page.NextOffset = offset + len(edges)
	}
	writeJSON(w, http.StatusOK, chatcontract.MembersResponse{Edges: edges, PageInfo: page})
}

func (s *server) addMembers(w http.ResponseWriter, r *http.Request) {
	var req chatcontract.MembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channelOr404(w, r)
	if !ok {
		return
	}
	for _, m := range req.MemberIDs {
		ch.members[m] = true
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) removeMembers(w http.ResponseWriter, r *http.Request) {
	var req chatcontract.MembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channelOr404(w, r)
	if !ok {
		return
	}
	for _, m := range req.MemberIDs {
		delete(ch.members, m)
		delete(ch.levels, m)
		delete(ch.readUpTo, m)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channelOr404(w, r)
	if !ok {
		return
	}
	userID := r.URL.Query().Get("user_id")
	level := ch.levels[userID]
	if level == "" {
		level = "default"
	}
	unread := 0
	for _, m := range ch.messages {
		if m.Order > ch.readUpTo[userID] {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, chatcontract.ChannelStatusResponse{
		UnreadCount:       unread,
		NotificationLevel: level,
	})
}

func (s *server) setLevel(w http.ResponseWriter, r *http.Request) {
	var req chatcontract.NotificationLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	switch req.Level {
	case "loud", "default", "muted":
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unknown level")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channelOr404(w, r)
	if !ok {
		return
	}
	ch.levels[req.UserID] = req.Level
	w.WriteHeader(http.StatusNoContent)
}

// markRead is a dev hook with no production counterpart: it advances a
// member's read pointer so unread counts and receipts can be exercised.
func (s *server) markRead(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	upTo, _ := strconv.ParseInt(r.URL.Query().Get("up_to"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channelOr404(w, r)
	if !ok {
		return
	}
	if upTo > ch.readUpTo[userID] {
		ch.readUpTo[userID] = upTo
	}
	writeJSON(w, http.StatusOK, chatcontract.ReadReceiptEvent{
		ChannelID: r.PathValue("id"),
		UserID:    userID,
		ReadUpTo:  upTo,
		At:        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *server) watch(w http.ResponseWriter, r *http.Request) {
	var req chatcontract.WatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	subID := fmt.Sprintf("sub-%d", s.nextSub)
	s.watches[subID] = req.UserID
	writeJSON(w, http.StatusCreated, chatcontract.WatchResponse{SubscriptionID: subID})
}

func (s *server) unwatch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subID := r.PathValue("id")
	if _, ok := s.watches[subID]; !ok {
		writeError(w, http.StatusNotFound, "watch_not_found", "unknown subscription")
		return
	}
	delete(s.watches, subID)
	w.WriteHeader(http.StatusNoContent)
}
