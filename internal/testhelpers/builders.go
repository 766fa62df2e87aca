package testhelpers

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/radiowatch/radiowatch/internal/database"
)

// ========================================
// Entity Builders
// ========================================

// CallBuilder builds Call records for tests
type CallBuilder struct {
	call database.Call
}

// NewCall creates a builder with sensible defaults
func NewCall(callID string) *CallBuilder {
	now := time.Now().UTC()
	return &CallBuilder{call: database.Call{
		CallID:          callID,
		Timestamp:       now,
		Talkgroup:       "TG-TEST",
		Source:          "UNIT-1",
		SystemName:      "test-system",
		ProcessingState: database.ProcessingStatePending,
		RetentionDate:   now.AddDate(0, 0, 30),
		Version:         1,
	}}
}

// At sets the call timestamp and shifts the retention date with it
func (b *CallBuilder) At(ts time.Time) *CallBuilder {
	b.call.Timestamp = ts
	b.call.RetentionDate = ts.AddDate(0, 0, 30)
	return b
}

// OnTalkgroup sets the talkgroup
func (b *CallBuilder) OnTalkgroup(tg string) *CallBuilder {
	b.call.Talkgroup = tg
	return b
}

// WithState sets the processing state
func (b *CallBuilder) WithState(state database.ProcessingState) *CallBuilder {
	b.call.ProcessingState = state
	return b
}

// WithDuration sets the call duration in seconds
func (b *CallBuilder) WithDuration(seconds float64) *CallBuilder {
	b.call.Duration = seconds
	return b
}

// Archived marks the call archived at the given time
func (b *CallBuilder) Archived(at time.Time) *CallBuilder {
	b.call.Archived = true
	b.call.ArchiveDate = &at
	return b
}

// Build returns the call without persisting it
func (b *CallBuilder) Build() database.Call {
	return b.call
}

// Create persists the call and returns it
func (b *CallBuilder) Create(t *testing.T, db *gorm.DB) database.Call {
	t.Helper()
	if err := db.Create(&b.call).Error; err != nil {
		t.Fatalf("Failed to create call %s: %v", b.call.CallID, err)
	}
	return b.call
}

// RuleBuilder builds AlertRule records for tests
type RuleBuilder struct {
	rule database.AlertRule
}

// NewRule creates a builder with sensible defaults
func NewRule(name, metric string) *RuleBuilder {
	return &RuleBuilder{rule: database.AlertRule{
		Name:             name,
		MetricName:       metric,
		Operator:         database.OperatorGreaterThan,
		Threshold:        1,
		WindowSeconds:    300,
		MinDataPoints:    1,
		Severity:         database.AlertSeverityWarning,
		Enabled:          true,
		MaxAlertsPerHour: 4,
	}}
}

// Comparing sets the operator and threshold
func (b *RuleBuilder) Comparing(op database.ThresholdOperator, threshold float64) *RuleBuilder {
	b.rule.Operator = op
	b.rule.Threshold = threshold
	return b
}

// WithSeverity sets the severity
func (b *RuleBuilder) WithSeverity(severity database.AlertSeverity) *RuleBuilder {
	b.rule.Severity = severity
	return b
}

// Disabled marks the rule disabled
func (b *RuleBuilder) Disabled() *RuleBuilder {
	b.rule.Enabled = false
	return b
}

// Create persists the rule and returns it
func (b *RuleBuilder) Create(t *testing.T, db *gorm.DB) database.AlertRule {
	t.Helper()
	if err := db.Create(&b.rule).Error; err != nil {
		t.Fatalf("Failed to create rule %s: %v", b.rule.Name, err)
	}
	return b.rule
}

// SeedSamples records a run of evenly spaced samples ending at the
// given time
func SeedSamples(t *testing.T, db *gorm.DB, metric string, values []float64, endingAt time.Time, spacing time.Duration) {
	t.Helper()
	store := database.NewMetricStore(db)
	for i, v := range values {
		at := endingAt.Add(-time.Duration(len(values)-1-i) * spacing)
		if err := store.RecordSample(metric, v, at); err != nil {
			t.Fatalf("Failed to seed sample %d: %v", i, err)
		}
	}
}

// SeedCalls persists n calls with sequential call IDs starting at the
// given time
func SeedCalls(t *testing.T, db *gorm.DB, n int, startingAt time.Time) []database.Call {
	t.Helper()
	calls := make([]database.Call, 0, n)
	for i := 0; i < n; i++ {
		call := NewCall(fmt.Sprintf("seed-call-%03d", i)).
			At(startingAt.Add(time.Duration(i) * time.Minute)).
			Create(t, db)
		calls = append(calls, call)
	}
	return calls
}
