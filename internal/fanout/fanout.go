// Package fanout publishes per-device notices over NATS. Channel-level
// changes and read-receipt events ride the same feed, scoped by device so a
// user's other devices stay in sync without polling.
package fanout

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	id "carelink/pkg/domain"
)

// DeviceSubject names the NATS subject for one device's notices.
func DeviceSubject(tenantShortCode string, deviceID id.DeviceID) string {
	return fmt.Sprintf("carelink.%s.device.%s", tenantShortCode, deviceID)
}

// Feed wraps the NATS connection used for device fan-out.
type Feed struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials NATS with reconnect handling and returns the feed.
func Connect(url string, logger *slog.Logger) (*Feed, error) {
	log := logger.With("component", "fanout")
	conn, err := nats.Connect(url,
		nats.Name("carelink-family-core"),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Feed{conn: conn, logger: log}, nil
}

// NewFeed wraps an existing connection (tests use an in-process server).
func NewFeed(conn *nats.Conn, logger *slog.Logger) *Feed {
	return &Feed{conn: conn, logger: logger.With("component", "fanout")}
}

// Publish JSON-encodes v onto subject.
func (f *Feed) Publish(subject string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal fanout notice: %w", err)
	}
	return f.conn.Publish(subject, raw)
}

// Subscribe delivers raw payloads for subject on a buffered channel until
// the returned cancel function runs. Slow consumers drop messages rather
// than block the NATS callback.
func (f *Feed) Subscribe(subject string) (<-chan []byte, func(), error) {
	msgs := make(chan []byte, 64)
	sub, err := f.conn.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case msgs <- msg.Data:
		default:
			f.logger.Warn("fanout channel full, dropping message", "subject", subject)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	cancel := func() {
		_ = sub.Unsubscribe()
		close(msgs)
	}
	return msgs, cancel, nil
}

// Close drains and closes the underlying connection.
func (f *Feed) Close() {
	f.conn.Close()
}
