package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carelink/internal/identity/session"
)

// Deps collects everything the router mounts.
type Deps struct {
	Logger   *slog.Logger
	Issuer   *session.Issuer
	Auth     *AuthHandler
	Identity *IdentityHandler
	Chat     *ChatHandler
	Receipts *ReceiptHandler
}

// NewRouter assembles the full route tree. The auth routes are public; the
// rest sits behind the session middleware.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestMetadata)
	r.Use(Logger(deps.Logger))
	r.Use(Recovery(deps.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	deps.Auth.Register(r)

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(deps.Issuer, deps.Logger))
		deps.Auth.RegisterInvites(r)
		deps.Identity.Register(r)
		deps.Chat.Register(r)
		deps.Receipts.Register(r)
	})

	return r
}
