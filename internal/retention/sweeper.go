package retention

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/radiowatch/radiowatch/internal/database"
)

// DefaultBatchSize bounds how many records one batch touches, so a
// sweep over a large backlog never needs one enormous transaction.
const DefaultBatchSize = 500

// SweepResult is the structured outcome of one retention sweep
type SweepResult struct {
	ArchivedCount int64     `json:"archived_count"`
	PurgedCount   int64     `json:"purged_count"`
	Timestamp     time.Time `json:"ts"`
}

// Sweeper enforces the two-stage retention policy: archive calls past
// their retention date, purge archived calls past the purge window.
type Sweeper struct {
	store     *database.CallStore
	batchSize int
}

// NewSweeper creates a new retention sweeper
func NewSweeper(db *gorm.DB, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sweeper{
		store:     database.NewCallStore(db),
		batchSize: batchSize,
	}
}

// Sweep runs one archive-then-purge pass. Batches commit independently,
// so a crash mid-sweep loses nothing: the sweep is idempotent and the
// next run picks up where this one stopped.
func (s *Sweeper) Sweep(now time.Time, policy database.RetentionPolicy) (SweepResult, error) {
	result := SweepResult{Timestamp: now}

	if !policy.Enabled() {
		log.Println("Retention is disabled, skipping sweep")
		return result, nil
	}

	archived, err := s.archiveEligible(now)
	if err != nil {
		return result, fmt.Errorf("archive stage failed: %w", err)
	}
	result.ArchivedCount = archived

	purged, err := s.purgeExpired(now.Add(-policy.PurgeWindow()))
	if err != nil {
		return result, fmt.Errorf("purge stage failed: %w", err)
	}
	result.PurgedCount = purged

	log.Printf("Retention sweep: archived=%d purged=%d ts=%s",
		result.ArchivedCount, result.PurgedCount, now.UTC().Format(time.RFC3339))
	return result, nil
}

// archiveEligible archives non-archived calls whose retention date has
// passed, in bounded batches
func (s *Sweeper) archiveEligible(now time.Time) (int64, error) {
	var total int64
	for {
		due, err := s.store.CallsDueForArchive(now, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			return total, nil
		}

		ids := make([]uint, len(due))
		for i, call := range due {
			ids[i] = call.ID
		}
		n, err := s.store.MarkArchived(ids, now)
		if err != nil {
			return total, err
		}
		total += n
		if len(due) < s.batchSize {
			return total, nil
		}
	}
}

// purgeExpired deletes archived calls whose archive date is at or
// before the cutoff, in bounded batches
func (s *Sweeper) purgeExpired(cutoff time.Time) (int64, error) {
	var total int64
	for {
		due, err := s.store.CallsDueForPurge(cutoff, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			return total, nil
		}

		ids := make([]uint, len(due))
		for i, call := range due {
			ids[i] = call.ID
		}
		n, err := s.store.Purge(ids)
		if err != nil {
			return total, err
		}
		total += n
		if len(due) < s.batchSize {
			return total, nil
		}
	}
}
