package storage

import (
	"errors"
	"strings"
	"time"

	"gtbot/internal/meeting"
	"gtbot/internal/schedule"
	logx "gtbot/pkg/logx"
)

// Store is the full persistence API: meeting lifecycle state plus the
// durable job queue, both served by the same driver.
type Store interface {
	meeting.Store
	schedule.Store
	Close() error
}

// Config selects and tunes the storage driver.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Open initializes the configured store. An empty driver defaults to
// sqlite; the memory driver exists for tests and throwaway runs.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
