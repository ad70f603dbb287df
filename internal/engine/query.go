package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

const (
	recentAlertCount = 10
	topCategoryCount = 5
)

// AlertFilter narrows alert queries. Zero fields match everything.
type AlertFilter struct {
	Severity types.Severity
	Category types.Category
	Status   types.AlertStatus
	Since    time.Time
}

func (f AlertFilter) match(a *types.Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Alerts returns copies of matching alerts, newest first.
func (e *Engine) Alerts(f AlertFilter) []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alertsLocked(f)
}

// Active is Alerts with the status defaulting to active.
func (e *Engine) Active(f AlertFilter) []types.Alert {
	if f.Status == "" {
		f.Status = types.AlertActive
	}
	return e.Alerts(f)
}

func (e *Engine) alertsLocked(f AlertFilter) []types.Alert {
	out := []types.Alert{}
	for _, a := range e.alerts {
		if f.match(a) {
			out = append(out, copyAlert(*a))
		}
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

// Alert returns a copy of one alert.
func (e *Engine) Alert(id string) (types.Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[id]
	if !ok {
		return types.Alert{}, false
	}
	return copyAlert(*a), true
}

// Suppressions returns the suppressions still in force, sorted by key.
func (e *Engine) Suppressions() []types.Suppression {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suppressionsLocked(now)
}

func (e *Engine) suppressionsLocked(now time.Time) []types.Suppression {
	out := []types.Suppression{}
	for _, s := range e.suppressions {
		if s.Active(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// IsSuppressed reports whether key is currently suppressed.
func (e *Engine) IsSuppressed(key string) bool {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suppressedLocked(key, now)
}

var (
	alertSeverities = []types.Severity{
		types.SeverityLow, types.SeverityMedium, types.SeverityHigh, types.SeverityCritical,
	}
	alertStatuses = []types.AlertStatus{
		types.AlertActive, types.AlertAcknowledged, types.AlertResolved,
	}
)

// Stats aggregates alerts created at or after since. A zero since covers
// every retained alert.
func (e *Engine) Stats(since time.Time) types.AlertStats {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsLocked(since, now)
}

func (e *Engine) statsLocked(since, now time.Time) types.AlertStats {
	alerts := e.alertsLocked(AlertFilter{Since: since})
	st := types.AlertStats{
		Total:         len(alerts),
		BySeverity:    make(map[types.Severity]int, len(alertSeverities)),
		ByCategory:    make(map[types.Category]int),
		ByStatus:      make(map[types.AlertStatus]int, len(alertStatuses)),
		TopCategories: []types.CategoryCount{},
		Trends:        make(map[string]int, 24),
	}
	for _, s := range alertSeverities {
		st.BySeverity[s] = 0
	}
	for _, s := range alertStatuses {
		st.ByStatus[s] = 0
	}
	for i := 0; i < 24; i++ {
		st.Trends[fmt.Sprintf("%dh_ago", i)] = 0
	}

	acknowledged, resolved := 0, 0
	var resolution time.Duration
	for _, a := range alerts {
		st.BySeverity[a.Severity]++
		st.ByCategory[a.Category]++
		st.ByStatus[a.Status]++
		if a.AcknowledgedAt != nil {
			acknowledged++
		}
		if a.ResolvedAt != nil {
			resolved++
			resolution += a.ResolvedAt.Sub(a.CreatedAt)
		}
		age := now.Sub(a.CreatedAt)
		if age < 0 {
			age = 0
		}
		if h := int(age / time.Hour); h < 24 {
			st.Trends[fmt.Sprintf("%dh_ago", h)]++
		}
	}
	if len(alerts) > 0 {
		st.AcknowledgmentRate = float64(acknowledged) / float64(len(alerts)) * 100
		st.ResolutionRate = float64(resolved) / float64(len(alerts)) * 100
	}
	if resolved > 0 {
		st.AverageResolutionTime = resolution / time.Duration(resolved)
	}

	for c, n := range st.ByCategory {
		st.TopCategories = append(st.TopCategories, types.CategoryCount{Category: c, Count: n})
	}
	sort.Slice(st.TopCategories, func(i, j int) bool {
		if st.TopCategories[i].Count != st.TopCategories[j].Count {
			return st.TopCategories[i].Count > st.TopCategories[j].Count
		}
		return st.TopCategories[i].Category < st.TopCategories[j].Category
	})
	if len(st.TopCategories) > topCategoryCount {
		st.TopCategories = st.TopCategories[:topCategoryCount]
	}
	return st
}

// Health derives system health from active alerts: any critical alert is
// critical, more than two high alerts is degraded, any high alert is a
// warning.
func (e *Engine) Health() types.HealthStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthLocked()
}

func (e *Engine) healthLocked() types.HealthStatus {
	critical, high := 0, 0
	for _, a := range e.alerts {
		if a.Status != types.AlertActive {
			continue
		}
		switch a.Severity {
		case types.SeverityCritical:
			critical++
		case types.SeverityHigh:
			high++
		}
	}
	switch {
	case critical > 0:
		return types.HealthCritical
	case high > 2:
		return types.HealthDegraded
	case high > 0:
		return types.HealthWarning
	}
	return types.HealthHealthy
}

// Dashboard returns a summary of the engine for display.
func (e *Engine) Dashboard() types.Dashboard {
	now := e.now()
	var channels map[string]types.ChannelStats
	if e.dispatcher != nil {
		channels = e.dispatcher.Stats()
	}
	rules := e.Rules()

	e.mu.Lock()
	defer e.mu.Unlock()

	d := types.Dashboard{
		Timestamp:    now,
		Stats:        e.statsLocked(now.Add(-24*time.Hour), now),
		Health:       e.healthLocked(),
		Suppressions: e.suppressionsLocked(now),
		Channels:     channels,
		Rules:        rules,
	}
	all := e.alertsLocked(AlertFilter{})
	d.Summary.Total = len(all)
	for _, a := range all {
		switch a.Status {
		case types.AlertActive:
			d.Summary.Active++
			if a.Severity == types.SeverityCritical {
				d.Summary.Critical++
			}
		case types.AlertAcknowledged:
			d.Summary.Acknowledged++
		case types.AlertResolved:
			d.Summary.Resolved++
		}
	}
	if len(all) > recentAlertCount {
		all = all[:recentAlertCount]
	}
	d.RecentAlerts = all
	return d
}
