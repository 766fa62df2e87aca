package aggregates

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/radiowatch/radiowatch/internal/database"
)

// DailyCount is one day's worth of call activity
type DailyCount struct {
	Date          string  `json:"date"` // YYYY-MM-DD, UTC
	CallCount     int64   `json:"call_count"`
	TotalDuration float64 `json:"total_duration"`
}

// TalkgroupStats summarizes activity on one talkgroup
type TalkgroupStats struct {
	Talkgroup     string    `json:"talkgroup"`
	CallCount     int64     `json:"call_count"`
	TotalDuration float64   `json:"total_duration"`
	LastSeen      time.Time `json:"last_seen"`
}

// CallTotals carries the store-wide statistics the collector has always
// reported: counts per state, time bounds and distinct-value counts.
type CallTotals struct {
	TotalCalls       int64      `json:"total_calls"`
	CompletedCalls   int64      `json:"completed_calls"`
	PendingCalls     int64      `json:"pending_calls"`
	FailedCalls      int64      `json:"failed_calls"`
	ArchivedCalls    int64      `json:"archived_calls"`
	EarliestCall     *time.Time `json:"earliest_call,omitempty"`
	LatestCall       *time.Time `json:"latest_call,omitempty"`
	AvgDuration      float64    `json:"avg_duration"`
	UniqueSystems    int        `json:"unique_systems"`
	UniqueTalkgroups int        `json:"unique_talkgroups"`
}

// Rollup is one complete, immutable snapshot of the derived views.
// Readers always see either the previous or the next snapshot, never a
// half-built one.
type Rollup struct {
	Daily       []DailyCount     `json:"daily"`
	Talkgroups  []TalkgroupStats `json:"talkgroups"`
	Totals      CallTotals       `json:"totals"`
	RefreshedAt time.Time        `json:"refreshed_at"`
}

// Refresher recomputes rollups on demand and publishes them with a
// pointer swap, so concurrent readers never block on a refresh.
type Refresher struct {
	db *gorm.DB

	mu      sync.RWMutex
	current *Rollup
}

// NewRefresher creates a new aggregate refresher
func NewRefresher(db *gorm.DB) *Refresher {
	return &Refresher{db: db}
}

// Current returns the latest published rollup, or nil before the first
// refresh has completed
func (r *Refresher) Current() *Rollup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Refresh computes a fresh rollup into a shadow copy and swaps it in.
// The swap is the only write under the lock.
func (r *Refresher) Refresh(now time.Time) error {
	rollup, err := r.compute(now)
	if err != nil {
		return fmt.Errorf("rollup computation failed: %w", err)
	}

	r.mu.Lock()
	r.current = rollup
	r.mu.Unlock()
	return nil
}

func (r *Refresher) compute(now time.Time) (*Rollup, error) {
	var calls []database.Call
	err := r.db.Select("timestamp", "duration", "talkgroup", "system_name", "processing_state", "archived").
		Find(&calls).Error
	if err != nil {
		return nil, err
	}

	rollup := &Rollup{RefreshedAt: now}

	daily := make(map[string]*DailyCount)
	talkgroups := make(map[string]*TalkgroupStats)
	systems := make(map[string]struct{})
	var totalDuration float64

	for i := range calls {
		c := &calls[i]

		rollup.Totals.TotalCalls++
		totalDuration += c.Duration
		switch c.ProcessingState {
		case database.ProcessingStateCompleted:
			rollup.Totals.CompletedCalls++
		case database.ProcessingStatePending:
			rollup.Totals.PendingCalls++
		case database.ProcessingStateFailed:
			rollup.Totals.FailedCalls++
		}
		if c.Archived {
			rollup.Totals.ArchivedCalls++
		}

		ts := c.Timestamp.UTC()
		if rollup.Totals.EarliestCall == nil || ts.Before(*rollup.Totals.EarliestCall) {
			t := ts
			rollup.Totals.EarliestCall = &t
		}
		if rollup.Totals.LatestCall == nil || ts.After(*rollup.Totals.LatestCall) {
			t := ts
			rollup.Totals.LatestCall = &t
		}

		day := ts.Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			d = &DailyCount{Date: day}
			daily[day] = d
		}
		d.CallCount++
		d.TotalDuration += c.Duration

		if c.SystemName != "" {
			systems[c.SystemName] = struct{}{}
		}
		if c.Talkgroup != "" {
			tg, ok := talkgroups[c.Talkgroup]
			if !ok {
				tg = &TalkgroupStats{Talkgroup: c.Talkgroup}
				talkgroups[c.Talkgroup] = tg
			}
			tg.CallCount++
			tg.TotalDuration += c.Duration
			if ts.After(tg.LastSeen) {
				tg.LastSeen = ts
			}
		}
	}

	if rollup.Totals.TotalCalls > 0 {
		rollup.Totals.AvgDuration = totalDuration / float64(rollup.Totals.TotalCalls)
	}
	rollup.Totals.UniqueSystems = len(systems)
	rollup.Totals.UniqueTalkgroups = len(talkgroups)

	rollup.Daily = make([]DailyCount, 0, len(daily))
	for _, d := range daily {
		rollup.Daily = append(rollup.Daily, *d)
	}
	sort.Slice(rollup.Daily, func(i, j int) bool {
		return rollup.Daily[i].Date < rollup.Daily[j].Date
	})

	rollup.Talkgroups = make([]TalkgroupStats, 0, len(talkgroups))
	for _, tg := range talkgroups {
		rollup.Talkgroups = append(rollup.Talkgroups, *tg)
	}
	sort.Slice(rollup.Talkgroups, func(i, j int) bool {
		if rollup.Talkgroups[i].CallCount != rollup.Talkgroups[j].CallCount {
			return rollup.Talkgroups[i].CallCount > rollup.Talkgroups[j].CallCount
		}
		return rollup.Talkgroups[i].Talkgroup < rollup.Talkgroups[j].Talkgroup
	})

	return rollup, nil
}
