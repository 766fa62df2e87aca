package database

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// RetentionPolicy describes the two-stage lifecycle applied to calls:
// archive once the retention period has passed, purge once the purge
// window after archival has passed as well. Assembled fresh each cycle
// from configuration so changes apply without restart.
type RetentionPolicy struct {
	RetentionDays   int
	PurgeMultiplier int
}

// Enabled reports whether retention is in force at all. A non-positive
// retention period disables archiving, matching the collector's behavior.
func (p RetentionPolicy) Enabled() bool {
	return p.RetentionDays > 0
}

// Period returns the retention period as a duration
func (p RetentionPolicy) Period() time.Duration {
	return time.Duration(p.RetentionDays) * 24 * time.Hour
}

// PurgeWindow returns the additional time an archived record is kept
// before permanent deletion
func (p RetentionPolicy) PurgeWindow() time.Duration {
	mult := p.PurgeMultiplier
	if mult <= 0 {
		mult = 2
	}
	return time.Duration(mult) * p.Period()
}

// CallStore is the durable store for Call and AudioFile records. Every
// mutation is atomic per record and bumps the record's version; stale
// writers get ErrConflict instead of silently clobbering.
type CallStore struct {
	db *gorm.DB
}

// NewCallStore creates a new CallStore
func NewCallStore(db *gorm.DB) *CallStore {
	return &CallStore{db: db}
}

// IngestCall inserts a new call record. The retention date is stamped
// here, from the policy in force at insert time; later policy changes
// are not retroactive.
func (s *CallStore) IngestCall(call *Call, policy RetentionPolicy) (string, error) {
	if call.CallID == "" {
		return "", fmt.Errorf("%w: call_id is required", ErrPrecondition)
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now().UTC()
	}
	stampRetentionDate(call, policy)
	if call.ProcessingState == "" {
		call.ProcessingState = ProcessingStatePending
	}
	call.Version = 1

	if err := s.db.Create(call).Error; err != nil {
		return "", fmt.Errorf("failed to insert call %s: %w", call.CallID, err)
	}
	return call.CallID, nil
}

// stampRetentionDate computes the retention deadline at insert time.
// Explicit hook rather than a database trigger so the behavior is
// visible and testable without a storage engine.
func stampRetentionDate(call *Call, policy RetentionPolicy) {
	if !call.RetentionDate.IsZero() {
		// Never move an already-stamped deadline, and never below the
		// call timestamp.
		if call.RetentionDate.Before(call.Timestamp) {
			call.RetentionDate = call.Timestamp
		}
		return
	}
	if policy.Enabled() {
		call.RetentionDate = call.Timestamp.Add(policy.Period())
	} else {
		// Retention disabled: park the deadline far in the future so the
		// sweep never selects the record.
		call.RetentionDate = call.Timestamp.AddDate(100, 0, 0)
	}
}

// AttachAudioFile records the audio file for a call. At most one per call.
func (s *CallStore) AttachAudioFile(callID string, audio *AudioFile) error {
	call, err := s.GetByCallID(callID)
	if err != nil {
		return err
	}
	audio.CallRef = call.ID
	if audio.ProcessingState == "" {
		audio.ProcessingState = ProcessingStatePending
	}
	audio.Version = 1
	if err := s.db.Create(audio).Error; err != nil {
		return fmt.Errorf("failed to attach audio file to call %s: %w", callID, err)
	}
	return nil
}

// GetByCallID retrieves a call by its external identifier
func (s *CallStore) GetByCallID(callID string) (*Call, error) {
	var call Call
	err := s.db.Where("call_id = ?", callID).First(&call).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("%w: call %s", ErrNotFound, callID)
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// UpdateProcessingState advances a call's pipeline state. The caller
// passes the version it last read; if another writer got there first the
// update is rejected with ErrConflict and nothing is applied. Returns
// the new version on success.
func (s *CallStore) UpdateProcessingState(callID string, state ProcessingState, procErr string, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var call Call
		if err := tx.Where("call_id = ?", callID).First(&call).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("%w: call %s", ErrNotFound, callID)
			}
			return err
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"processing_state": state,
			"processing_error": procErr,
			"last_attempt_at":  now,
			"version":          gorm.Expr("version + 1"),
		}
		// The attempt counter only ever increases, once per attempt start.
		if state == ProcessingStateProcessing {
			updates["processing_attempts"] = gorm.Expr("processing_attempts + 1")
		}

		result := tx.Model(&Call{}).
			Where("call_id = ? AND version = ?", callID, expectedVersion).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: call %s expected version %d, have %d", ErrConflict, callID, expectedVersion, call.Version)
		}
		newVersion = expectedVersion + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// MarkArchived flips the archival flag on the given records in one
// batched update. Already-archived records are left untouched, which is
// what makes the retention sweep idempotent.
func (s *CallStore) MarkArchived(ids []uint, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.Model(&Call{}).
		Where("id IN ? AND archived = ?", ids, false).
		Updates(map[string]interface{}{
			"archived":     true,
			"archive_date": now,
			"version":      gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark calls archived: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Purge permanently deletes archived calls and their audio files.
// Deletion is the only destructive operation in the system, so it is
// guarded: if any target record is not archived the whole batch is
// rejected with ErrPrecondition and nothing is removed.
func (s *CallStore) Purge(ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var purged int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var unarchived int64
		if err := tx.Model(&Call{}).Where("id IN ? AND archived = ?", ids, false).Count(&unarchived).Error; err != nil {
			return err
		}
		if unarchived > 0 {
			return fmt.Errorf("%w: %d of %d records are not archived", ErrPrecondition, unarchived, len(ids))
		}

		// Cascade: audio files are owned by their call.
		if err := tx.Where("call_ref IN ?", ids).Delete(&AudioFile{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&Call{})
		if result.Error != nil {
			return result.Error
		}
		purged = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// CallsDueForArchive returns non-archived calls whose retention deadline
// has passed, oldest first, bounded by limit
func (s *CallStore) CallsDueForArchive(now time.Time, limit int) ([]Call, error) {
	var calls []Call
	err := s.db.Where("archived = ? AND retention_date <= ?", false, now).
		Order("retention_date asc").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select calls due for archive: %w", err)
	}
	return calls, nil
}

// CallsDueForPurge returns archived calls whose archive date is at or
// before the cutoff, oldest first, bounded by limit
func (s *CallStore) CallsDueForPurge(cutoff time.Time, limit int) ([]Call, error) {
	var calls []Call
	err := s.db.Where("archived = ? AND archive_date <= ?", true, cutoff).
		Order("archive_date asc").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select calls due for purge: %w", err)
	}
	return calls, nil
}

// CallsInRange returns calls within the given time range, optionally
// filtered by processing state and archival flag
func (s *CallStore) CallsInRange(from, to time.Time, state ProcessingState, archived *bool) ([]Call, error) {
	query := s.db.Where("timestamp >= ? AND timestamp <= ?", from, to)
	if state != "" {
		query = query.Where("processing_state = ?", state)
	}
	if archived != nil {
		query = query.Where("archived = ?", *archived)
	}
	var calls []Call
	if err := query.Order("timestamp asc").Find(&calls).Error; err != nil {
		return nil, err
	}
	return calls, nil
}

// UnprocessedCalls returns pending calls, oldest first
func (s *CallStore) UnprocessedCalls(limit int) ([]Call, error) {
	var calls []Call
	err := s.db.Where("processing_state = ?", ProcessingStatePending).
		Order("timestamp asc").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, err
	}
	return calls, nil
}

// CountByState returns the number of calls in the given processing state
func (s *CallStore) CountByState(state ProcessingState) (int64, error) {
	var count int64
	err := s.db.Model(&Call{}).Where("processing_state = ?", state).Count(&count).Error
	return count, err
}

// CountCalls returns the total number of call records
func (s *CallStore) CountCalls() (int64, error) {
	var count int64
	err := s.db.Model(&Call{}).Count(&count).Error
	return count, err
}

// CountCallsSince returns the number of calls whose timestamp is at or
// after the given instant
func (s *CallStore) CountCallsSince(since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&Call{}).Where("timestamp >= ?", since).Count(&count).Error
	return count, err
}

// AverageDuration returns the mean call duration across all records,
// zero when the table is empty
func (s *CallStore) AverageDuration() (float64, error) {
	var avg float64
	row := s.db.Model(&Call{}).Select("COALESCE(AVG(duration), 0)").Row()
	err := row.Scan(&avg)
	return avg, err
}

// CallSummary is the trimmed view returned by search
type CallSummary struct {
	ID         uint      `json:"id"`
	CallID     string    `json:"call_id"`
	Timestamp  time.Time `json:"timestamp"`
	Talkgroup  string    `json:"talkgroup"`
	Source     string    `json:"source"`
	SystemName string    `json:"system_name"`
	Department string    `json:"department"`
	CallType   string    `json:"call_type"`
	Duration   float64   `json:"duration"`
	Score      int       `json:"score"`
}

// Field weights for search relevance. The ordering is the contract
// (talkgroup outranks source outranks system, and so on); the numeric
// values are ordinal only.
const (
	searchWeightTalkgroup  = 5
	searchWeightSource     = 4
	searchWeightSystem     = 3
	searchWeightDepartment = 3
	searchWeightCallType   = 2
	searchWeightMetadata   = 1
)

// searchScanCap bounds how many candidate rows each search query pulls
// into memory before scoring. It scales with the requested page so deep
// pagination still works; newest rows win when candidates overflow.
func searchScanCap(limit, offset int) int {
	n := (limit + offset) * 4
	if n < 200 {
		n = 200
	}
	return n
}

// SearchCalls performs a weighted substring search over call metadata.
// Candidates are narrowed and bounded in SQL; scoring and ordering
// happen here so the ranking is identical across postgres and sqlite.
func (s *CallStore) SearchCalls(term string, limit, offset int) ([]CallSummary, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []CallSummary{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	scanCap := searchScanCap(limit, offset)

	pattern := "%" + strings.ToLower(term) + "%"
	var calls []Call
	err := s.db.Where(
		"LOWER(talkgroup) LIKE ? OR LOWER(source) LIKE ? OR LOWER(system_name) LIKE ? OR LOWER(department) LIKE ? OR LOWER(call_type) LIKE ? OR LOWER(call_id) LIKE ?",
		pattern, pattern, pattern, pattern, pattern, pattern,
	).Order("timestamp desc").Limit(scanCap).Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	// The metadata bag is schema-free, so it is matched after fetch.
	// The candidate set is still bounded in SQL.
	var bagOnly []Call
	err = s.db.Where("metadata IS NOT NULL").
		Not("LOWER(talkgroup) LIKE ? OR LOWER(source) LIKE ? OR LOWER(system_name) LIKE ? OR LOWER(department) LIKE ? OR LOWER(call_type) LIKE ? OR LOWER(call_id) LIKE ?",
			pattern, pattern, pattern, pattern, pattern, pattern).
		Order("timestamp desc").Limit(scanCap).Find(&bagOnly).Error
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	lower := strings.ToLower(term)
	for _, c := range bagOnly {
		if metadataMatches(c.Metadata, lower) {
			calls = append(calls, c)
		}
	}

	summaries := make([]CallSummary, 0, len(calls))
	for _, c := range calls {
		score := scoreCall(&c, lower)
		if score == 0 {
			continue
		}
		summaries = append(summaries, CallSummary{
			ID:         c.ID,
			CallID:     c.CallID,
			Timestamp:  c.Timestamp,
			Talkgroup:  c.Talkgroup,
			Source:     c.Source,
			SystemName: c.SystemName,
			Department: c.Department,
			CallType:   c.CallType,
			Duration:   c.Duration,
			Score:      score,
		})
	}

	// Highest score first; ties broken by recency.
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Score != summaries[j].Score {
			return summaries[i].Score > summaries[j].Score
		}
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})

	if offset >= len(summaries) {
		return []CallSummary{}, nil
	}
	end := offset + limit
	if end > len(summaries) {
		end = len(summaries)
	}
	return summaries[offset:end], nil
}

func scoreCall(c *Call, lowerTerm string) int {
	score := 0
	if strings.Contains(strings.ToLower(c.Talkgroup), lowerTerm) {
		score += searchWeightTalkgroup
	}
	if strings.Contains(strings.ToLower(c.Source), lowerTerm) {
		score += searchWeightSource
	}
	if strings.Contains(strings.ToLower(c.SystemName), lowerTerm) {
		score += searchWeightSystem
	}
	if strings.Contains(strings.ToLower(c.Department), lowerTerm) {
		score += searchWeightDepartment
	}
	if strings.Contains(strings.ToLower(c.CallType), lowerTerm) {
		score += searchWeightCallType
	}
	if strings.Contains(strings.ToLower(c.CallID), lowerTerm) {
		score += searchWeightMetadata
	}
	if metadataMatches(c.Metadata, lowerTerm) {
		score += searchWeightMetadata
	}
	return score
}

func metadataMatches(bag JSONB, lowerTerm string) bool {
	if len(bag) == 0 {
		return false
	}
	raw, err := json.Marshal(bag)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(raw)), lowerTerm)
}
