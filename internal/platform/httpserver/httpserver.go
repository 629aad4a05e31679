package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. WriteTimeout stays unset because the
// read-receipt stream holds its response open for the life of the
// subscription.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
