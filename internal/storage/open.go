package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "syndicate/pkg/logx"
)

// Store is the durable state behind the orchestrator and channel registry.
//
// UpdateRecord and UpdateChannel are atomic read-modify-write operations on
// one id: fn sees the current row and its changes are saved only if it
// returns nil.
type Store interface {
	CreateRecord(ctx context.Context, r Record) error
	GetRecord(ctx context.Context, id string) (Record, error)
	UpdateRecord(ctx context.Context, id string, fn func(*Record) error) (Record, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]Record, error)
	CountRecords(ctx context.Context, f RecordFilter) (int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	DeleteRecords(ctx context.Context, f RecordFilter) (int, error)

	CreateChannel(ctx context.Context, c Channel) error
	GetChannel(ctx context.Context, id string) (Channel, error)
	UpdateChannel(ctx context.Context, id string, fn func(*Channel) error) (Channel, error)
	DeleteChannel(ctx context.Context, id string) error
	ListChannels(ctx context.Context, f ChannelFilter) ([]Channel, error)

	GetSetting(ctx context.Context, key string) ([]byte, bool, error)
	PutSetting(ctx context.Context, key string, value []byte) error

	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// stamp fills timestamps the caller left unset.
func stamp(now time.Time, created, updated *time.Time) {
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = *created
	}
}
