// Package history persists delivery outcomes so the daily digest (and a
// curious operator) can look back at what the relay sent. Drivers: a
// dependency-free JSONL journal and SQLite.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"embygram/internal/eventbus"
	"embygram/pkg/logx"
)

var ErrClosed = errors.New("history store closed")

// DefaultRetention bounds how far back either driver keeps records.
const DefaultRetention = 30 * 24 * time.Hour

// Config configures the history store.
//
// Driver values:
//   - "file": append-only JSON Lines journal with periodic compaction
//   - "sqlite": SQLite database file
//
// Empty or "none" disables history.
type Config struct {
	Driver      string
	Path        string
	Retention   time.Duration // 0 means DefaultRetention
	BusyTimeout time.Duration // sqlite only; 0 means default
}

func (c Config) retention() time.Duration {
	if c.Retention > 0 {
		return c.Retention
	}
	return DefaultRetention
}

// Store is the persistence API for delivery records.
type Store interface {
	AppendDelivery(ctx context.Context, d eventbus.Delivery) error
	Recent(ctx context.Context, since time.Time) ([]eventbus.Delivery, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when
// history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "history"))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
