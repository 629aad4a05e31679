package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carelink/internal/readreceipt"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/requestcontext"
)

// ReceiptService manages the caller's read-receipt watch.
type ReceiptService interface {
	Subscribe(ctx context.Context, userID id.UserID) (readreceipt.Subscription, error)
	Unsubscribe(ctx context.Context, userID id.UserID) error
}

// ReceiptHandler serves the read-receipt subscription routes.
type ReceiptHandler struct {
	receipts ReceiptService
	logger   *slog.Logger
}

// NewReceiptHandler constructs the read-receipt handler.
func NewReceiptHandler(receipts ReceiptService, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{receipts: receipts, logger: logger}
}

// Register mounts the read-receipt routes (session-protected).
func (h *ReceiptHandler) Register(r chi.Router) {
	r.Get("/read-receipts/stream", h.handleStream)
	r.Delete("/read-receipts/subscription", h.handleUnsubscribe)
}

// handleStream registers the watch and holds the connection open, pushing
// each receipt as a server-sent event. Closing the connection tears the
// device feed down; the external watch itself stays registered until an
// explicit unsubscribe or the next re-subscribe replaces it.
func (h *ReceiptHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	ctx := r.Context()
	sub, err := h.receipts.Subscribe(ctx, requestcontext.UserID(ctx))
	if err != nil {
		WriteError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Subscription-Id", sub.SubscriptionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-sub.Events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to encode read receipt", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: read_receipt\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (h *ReceiptHandler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.receipts.Unsubscribe(r.Context(), requestcontext.UserID(r.Context())); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
