package tracker

import (
	"fmt"
	"sort"
	"time"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Filter narrows Stats and Records.
type Filter struct {
	Since     time.Time
	Category  types.Category
	Severity  types.Severity
	Recovered *bool
}

func (f Filter) match(r types.ErrorRecord) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Severity != "" && r.Severity != f.Severity {
		return false
	}
	if f.Recovered != nil {
		recovered := r.Recovery != nil && r.Recovery.Success
		if recovered != *f.Recovered {
			return false
		}
	}
	return true
}

// Records returns copies of matching records, oldest first.
func (t *Tracker) Records(f Filter) []types.ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordsLocked(f)
}

func (t *Tracker) recordsLocked(f Filter) []types.ErrorRecord {
	var out []types.ErrorRecord
	for _, r := range t.records {
		if f.match(r) {
			out = append(out, copyRecord(r))
		}
	}
	return out
}

// Count returns how many records match f.
func (t *Tracker) Count(f Filter) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.records {
		if f.match(r) {
			n++
		}
	}
	return n
}

var allCategories = []types.Category{
	types.CategoryNetwork, types.CategoryValidation, types.CategoryRuntime,
	types.CategoryUI, types.CategoryPerformance, types.CategorySecurity,
	types.CategoryBusinessLogic, types.CategoryIntegration, types.CategoryUnknown,
}

var allSeverities = []types.Severity{
	types.SeverityLow, types.SeverityMedium, types.SeverityHigh, types.SeverityCritical,
}

// Stats aggregates matching records.
func (t *Tracker) Stats(f Filter) types.ErrorStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := t.recordsLocked(f)
	now := t.now()

	st := types.ErrorStats{
		Total:        len(records),
		ByCategory:   make(map[types.Category]int, len(allCategories)),
		BySeverity:   make(map[types.Severity]int, len(allSeverities)),
		ByUserImpact: make(map[string]int),
		RecentTrends: hourlyTrends(records, now),
		Patterns:     t.patternStatsLocked(now),
		TopErrors:    []types.TopError{},
	}
	for _, c := range allCategories {
		st.ByCategory[c] = 0
	}
	for _, s := range allSeverities {
		st.BySeverity[s] = 0
	}

	recovered := 0
	groups := make(map[string]*types.TopError)
	for _, r := range records {
		st.ByCategory[r.Category]++
		st.BySeverity[r.Severity]++
		st.ByUserImpact[r.UserImpact]++
		if r.Recovery != nil && r.Recovery.Success {
			recovered++
		}
		g, ok := groups[r.Fingerprint]
		if !ok {
			g = &types.TopError{
				Fingerprint: r.Fingerprint,
				Message:     r.Message,
				Category:    r.Category,
				Severity:    r.Severity,
			}
			groups[r.Fingerprint] = g
		}
		g.Count++
		if r.Timestamp.After(g.LastOccurrence) {
			g.LastOccurrence = r.Timestamp
		}
	}
	if len(records) > 0 {
		st.RecoveryRate = float64(recovered) / float64(len(records)) * 100
	}

	for _, g := range groups {
		st.TopErrors = append(st.TopErrors, *g)
	}
	sort.Slice(st.TopErrors, func(i, j int) bool {
		if st.TopErrors[i].Count != st.TopErrors[j].Count {
			return st.TopErrors[i].Count > st.TopErrors[j].Count
		}
		return st.TopErrors[i].Fingerprint < st.TopErrors[j].Fingerprint
	})
	if len(st.TopErrors) > 10 {
		st.TopErrors = st.TopErrors[:10]
	}
	return st
}

// hourlyTrends buckets records into the trailing 24 hours keyed "Nh_ago".
func hourlyTrends(records []types.ErrorRecord, now time.Time) map[string]int {
	trends := make(map[string]int, 24)
	for i := 0; i < 24; i++ {
		trends[fmt.Sprintf("%dh_ago", i)] = 0
	}
	for _, r := range records {
		age := now.Sub(r.Timestamp)
		if age < 0 {
			age = 0
		}
		h := int(age / time.Hour)
		if h < 24 {
			trends[fmt.Sprintf("%dh_ago", h)]++
		}
	}
	return trends
}

// PatternStats summarizes fingerprint buckets.
func (t *Tracker) PatternStats() types.PatternStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.patternStatsLocked(t.now())
}

func (t *Tracker) patternStatsLocked(now time.Time) types.PatternStats {
	st := types.PatternStats{TotalPatterns: len(t.patterns)}
	for _, b := range t.patterns {
		if now.Sub(b.last) > activeWindow {
			continue
		}
		st.ActivePatterns++
		if t.criticalLocked(b, now) {
			st.CriticalPatterns++
		}
	}
	return st
}

// criticalLocked reports whether b has reached the threshold inside a
// window that is still open at now.
func (t *Tracker) criticalLocked(b *bucket, now time.Time) bool {
	return b.windowCount >= t.threshold && now.Sub(b.windowStart) <= t.window
}

// ActivePatterns returns buckets seen within the last hour, most frequent
// first.
func (t *Tracker) ActivePatterns() []types.PatternInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activePatternsLocked(t.now())
}

func (t *Tracker) activePatternsLocked(now time.Time) []types.PatternInfo {
	out := []types.PatternInfo{}
	for fp, b := range t.patterns {
		if now.Sub(b.last) > activeWindow {
			continue
		}
		out = append(out, types.PatternInfo{
			Fingerprint:     fp,
			Count:           b.count,
			WindowCount:     b.windowCount,
			FirstOccurrence: b.first,
			LastOccurrence:  b.last,
			ErrorIDs:        append([]string(nil), b.ids...),
			IsCritical:      t.criticalLocked(b, now),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// ReportOptions scopes Report.
type ReportOptions struct {
	// Range defaults to 24 hours.
	Range          time.Duration
	IncludeDetails bool
}

// Report bundles statistics with critical, unrecovered and, optionally,
// all records in range.
func (t *Tracker) Report(opts ReportOptions) types.ErrorReport {
	if opts.Range <= 0 {
		opts.Range = 24 * time.Hour
	}
	now := t.now()
	since := now.Add(-opts.Range)

	summary := t.Stats(Filter{Since: since})

	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.recordsLocked(Filter{Since: since})
	rep := types.ErrorReport{
		GeneratedAt:       now,
		Since:             since,
		Until:             now,
		Summary:           summary,
		CriticalErrors:    []types.ErrorRecord{},
		UnrecoveredErrors: []types.ErrorRecord{},
		Patterns:          t.activePatternsLocked(now),
	}
	for _, r := range recent {
		if r.Severity == types.SeverityCritical {
			rep.CriticalErrors = append(rep.CriticalErrors, r)
		}
		if r.Recovery == nil || !r.Recovery.Success {
			rep.UnrecoveredErrors = append(rep.UnrecoveredErrors, r)
		}
	}
	if opts.IncludeDetails {
		rep.DetailedErrors = recent
	}
	return rep
}
