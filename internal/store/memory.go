package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Memory keeps alerts and suppressions in process memory.
type Memory struct {
	mu           sync.Mutex
	max          int
	alerts       map[string]types.Alert
	suppressions map[string]types.Suppression
}

// NewMemory creates an in-memory store keeping at most max alerts.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = DefaultMaxAlerts
	}
	return &Memory{
		max:          max,
		alerts:       make(map[string]types.Alert),
		suppressions: make(map[string]types.Suppression),
	}
}

// SaveAlert inserts or replaces an alert by id.
func (m *Memory) SaveAlert(_ context.Context, alert types.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.ID] = alert
	if len(m.alerts) > m.max {
		for _, a := range newestFirst(m.alerts)[m.max:] {
			delete(m.alerts, a.ID)
		}
	}
	return nil
}

// ListAlerts returns alerts newest first.
func (m *Memory) ListAlerts(_ context.Context, limit int) ([]types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return truncate(newestFirst(m.alerts), limit), nil
}

// DeleteAlert removes an alert.
func (m *Memory) DeleteAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(m.alerts, id)
	return nil
}

// SaveSuppression installs or overwrites a suppression.
func (m *Memory) SaveSuppression(_ context.Context, s types.Suppression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressions[s.Key] = s
	return nil
}

// ListSuppressions returns suppressions sorted by key.
func (m *Memory) ListSuppressions(_ context.Context) ([]types.Suppression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Suppression, 0, len(m.suppressions))
	for _, s := range m.suppressions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteSuppression removes a suppression.
func (m *Memory) DeleteSuppression(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.suppressions[key]; !ok {
		return ErrNotFound
	}
	delete(m.suppressions, key)
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func newestFirst(alerts map[string]types.Alert) []types.Alert {
	out := make([]types.Alert, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a)
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(alerts []types.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
		}
		return alerts[i].ID > alerts[j].ID
	})
}

func truncate(alerts []types.Alert, limit int) []types.Alert {
	if limit > 0 && len(alerts) > limit {
		return alerts[:limit]
	}
	return alerts
}
