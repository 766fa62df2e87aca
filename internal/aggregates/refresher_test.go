package aggregates

import (
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/radiowatch/radiowatch/internal/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(&database.Call{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func seedCalls(t *testing.T, db *gorm.DB) {
	t.Helper()
	day1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	calls := []database.Call{
		{CallID: "a", Timestamp: day1, Duration: 10, Talkgroup: "FIRE", SystemName: "sys1", ProcessingState: database.ProcessingStateCompleted, RetentionDate: day1.AddDate(0, 1, 0), Version: 1},
		{CallID: "b", Timestamp: day1.Add(time.Hour), Duration: 20, Talkgroup: "FIRE", SystemName: "sys1", ProcessingState: database.ProcessingStatePending, RetentionDate: day1.AddDate(0, 1, 0), Version: 1},
		{CallID: "c", Timestamp: day2, Duration: 30, Talkgroup: "EMS", SystemName: "sys2", ProcessingState: database.ProcessingStateFailed, RetentionDate: day2.AddDate(0, 1, 0), Version: 1},
	}
	for i := range calls {
		if err := db.Create(&calls[i]).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func TestRefresh_ComputesDailyAndTalkgroupRollups(t *testing.T) {
	db := setupTestDB(t)
	seedCalls(t, db)

	refresher := NewRefresher(db)
	now := time.Now().UTC()
	if err := refresher.Refresh(now); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	rollup := refresher.Current()
	if rollup == nil {
		t.Fatal("expected a published rollup")
	}
	if !rollup.RefreshedAt.Equal(now) {
		t.Errorf("expected refreshed_at %v, got %v", now, rollup.RefreshedAt)
	}

	if len(rollup.Daily) != 2 {
		t.Fatalf("expected 2 daily buckets, got %d", len(rollup.Daily))
	}
	if rollup.Daily[0].Date != "2026-05-01" || rollup.Daily[0].CallCount != 2 {
		t.Errorf("unexpected first daily bucket: %+v", rollup.Daily[0])
	}
	if rollup.Daily[1].Date != "2026-05-02" || rollup.Daily[1].CallCount != 1 {
		t.Errorf("unexpected second daily bucket: %+v", rollup.Daily[1])
	}

	if len(rollup.Talkgroups) != 2 {
		t.Fatalf("expected 2 talkgroups, got %d", len(rollup.Talkgroups))
	}
	// Busiest talkgroup first.
	if rollup.Talkgroups[0].Talkgroup != "FIRE" || rollup.Talkgroups[0].CallCount != 2 {
		t.Errorf("unexpected top talkgroup: %+v", rollup.Talkgroups[0])
	}
	if rollup.Talkgroups[0].TotalDuration != 30 {
		t.Errorf("expected FIRE total duration 30, got %g", rollup.Talkgroups[0].TotalDuration)
	}

	totals := rollup.Totals
	if totals.TotalCalls != 3 || totals.CompletedCalls != 1 || totals.PendingCalls != 1 || totals.FailedCalls != 1 {
		t.Errorf("unexpected totals: %+v", totals)
	}
	if totals.AvgDuration != 20 {
		t.Errorf("expected avg duration 20, got %g", totals.AvgDuration)
	}
	if totals.UniqueSystems != 2 || totals.UniqueTalkgroups != 2 {
		t.Errorf("unexpected distinct counts: %+v", totals)
	}
}

func TestCurrent_NilBeforeFirstRefresh(t *testing.T) {
	refresher := NewRefresher(setupTestDB(t))
	if refresher.Current() != nil {
		t.Error("expected nil rollup before first refresh")
	}
}

func TestRefresh_ReadersSeeOldOrNewSnapshot(t *testing.T) {
	db := setupTestDB(t)
	seedCalls(t, db)

	refresher := NewRefresher(db)
	if err := refresher.Refresh(time.Now()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	first := refresher.Current()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Hammer Current while refreshes run; every observed snapshot must be
	// internally complete (totals populated, never a torn struct).
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			r := refresher.Current()
			if r == nil {
				continue
			}
			if r.Totals.TotalCalls != 3 {
				t.Errorf("observed partial rollup: %+v", r.Totals)
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		if err := refresher.Refresh(time.Now()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	second := refresher.Current()
	if second == first {
		t.Error("expected refresh to publish a new snapshot")
	}
}
