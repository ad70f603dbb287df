// Package store persists alert history and the suppression table.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// DefaultMaxAlerts bounds how many alerts a store keeps.
const DefaultMaxAlerts = 500

// ErrNotFound is returned when deleting an id or key that is not stored.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract used by the alert engine.
type Store interface {
	SaveAlert(ctx context.Context, alert types.Alert) error
	// ListAlerts returns up to limit alerts, newest first. A non-positive
	// limit returns everything kept.
	ListAlerts(ctx context.Context, limit int) ([]types.Alert, error)
	DeleteAlert(ctx context.Context, id string) error
	SaveSuppression(ctx context.Context, s types.Suppression) error
	ListSuppressions(ctx context.Context) ([]types.Suppression, error)
	DeleteSuppression(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// New creates the store selected by cfg.Type. An empty type selects the
// in-memory store.
func New(ctx context.Context, cfg types.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case "", "memory":
		return NewMemory(DefaultMaxAlerts), nil
	case "file":
		return NewFile(cfg.Path, DefaultMaxAlerts)
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis store requires a redis section")
		}
		return NewRedis(cfg.Redis, logger), nil
	case "dynamodb":
		if cfg.DynamoDB == nil {
			return nil, fmt.Errorf("dynamodb store requires a dynamodb section")
		}
		s, err := NewDynamoDB(ctx, cfg.DynamoDB, logger)
		if err != nil {
			return nil, err
		}
		if cfg.DynamoDB.CreateTable {
			if err := s.EnsureTable(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
