package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, sok := value.(string); sok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// ProcessingState represents the pipeline state of a call or audio file
type ProcessingState string

const (
	ProcessingStatePending    ProcessingState = "pending"
	ProcessingStateProcessing ProcessingState = "processing"
	ProcessingStateCompleted  ProcessingState = "completed"
	ProcessingStateFailed     ProcessingState = "failed"
)

// Call represents one recorded radio transmission and its metadata.
// The Metadata bag carries whatever the source system sent, verbatim,
// so records can be replayed for forensics later.
type Call struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CallID    string    `gorm:"uniqueIndex;size:255;not null" json:"call_id"` // external identifier from the scanner
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`

	// Radio metadata
	Frequency  float64 `json:"frequency"` // Hz
	Talkgroup  string  `gorm:"size:100;index" json:"talkgroup"`
	Source     string  `gorm:"size:100" json:"source"`
	Duration   float64 `json:"duration"` // seconds
	SystemName string  `gorm:"size:255;index" json:"system_name"`
	Department string  `gorm:"size:255" json:"department"`
	CallType   string  `gorm:"size:100" json:"call_type"`
	Units      JSONB   `gorm:"type:jsonb" json:"units"`
	Metadata   JSONB   `gorm:"type:jsonb" json:"metadata"`
	AudioURL   string  `gorm:"type:text" json:"audio_url"`

	// Processing pipeline state
	ProcessingState    ProcessingState `gorm:"type:varchar(50);not null;default:'pending';index" json:"processing_state"`
	ProcessingAttempts int             `gorm:"not null;default:0" json:"processing_attempts"`
	LastAttemptAt      *time.Time      `json:"last_attempt_at,omitempty"`
	ProcessingError    string          `gorm:"type:text" json:"processing_error,omitempty"`

	// Archival lifecycle
	Archived      bool       `gorm:"not null;default:false;index" json:"archived"`
	ArchiveDate   *time.Time `json:"archive_date,omitempty"`
	RetentionDate time.Time  `gorm:"not null;index" json:"retention_date"`

	// Version is bumped on every mutation; stale writers are rejected
	Version int64 `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AudioFile *AudioFile `gorm:"foreignKey:CallRef;references:ID;constraint:OnDelete:CASCADE" json:"audio_file,omitempty"`
}

// AudioFile tracks the stored audio for a call. At most one per call;
// the audio pipeline advances its state independently of the call's.
type AudioFile struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	CallRef uint `gorm:"uniqueIndex;not null" json:"call_ref"`

	OriginalURL string `gorm:"type:text" json:"original_url"`
	LocalPath   string `gorm:"type:text" json:"local_path"`
	FileSize    int64  `json:"file_size"`
	Format      string `gorm:"size:10" json:"format"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Checksum    string `gorm:"size:64" json:"checksum"`

	ProcessingState    ProcessingState `gorm:"type:varchar(50);not null;default:'pending'" json:"processing_state"`
	ProcessingAttempts int             `gorm:"not null;default:0" json:"processing_attempts"`
	ProcessingError    string          `gorm:"type:text" json:"processing_error,omitempty"`

	Version   int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MetricSample is one timestamped operational measurement. Append-only.
type MetricSample struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MetricName string    `gorm:"size:100;not null;index:idx_metric_samples_name_time" json:"metric_name"`
	Value      float64   `gorm:"not null" json:"value"`
	RecordedAt time.Time `gorm:"not null;index:idx_metric_samples_name_time" json:"recorded_at"`
}

// AlertSeverity represents normalized severity levels
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityInfo     AlertSeverity = "info"
)

// ThresholdOperator is the comparison applied between a metric value
// and a rule's threshold
type ThresholdOperator string

const (
	OperatorGreaterThan    ThresholdOperator = ">"
	OperatorLessThan       ThresholdOperator = "<"
	OperatorGreaterOrEqual ThresholdOperator = ">="
	OperatorLessOrEqual    ThresholdOperator = "<="
	OperatorEqual          ThresholdOperator = "="
	OperatorNotEqual       ThresholdOperator = "!="
)

// AlertRule is an operator-configured condition over a metric.
// The engine only ever writes LastTriggered and TriggerCount; everything
// else is operator-owned configuration.
type AlertRule struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	Name             string            `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Description      string            `gorm:"type:text" json:"description"`
	MetricName       string            `gorm:"size:100;not null;index" json:"metric_name"`
	Operator         ThresholdOperator `gorm:"type:varchar(2);not null" json:"operator"`
	Threshold        float64           `gorm:"not null" json:"threshold"`
	WindowSeconds    int               `gorm:"not null;default:300" json:"window_seconds"`
	MinDataPoints    int               `gorm:"not null;default:1" json:"min_data_points"`
	Severity         AlertSeverity     `gorm:"type:varchar(20);not null;default:'warning'" json:"severity"`
	Enabled          bool              `gorm:"not null;default:true" json:"enabled"`
	SuppressUntil    *time.Time        `json:"suppress_until,omitempty"`
	MaxAlertsPerHour int               `gorm:"not null;default:4" json:"max_alerts_per_hour"`
	EscalationAfter  int               `gorm:"not null;default:0" json:"escalation_after"` // consecutive active cycles before the level rises; 0 disables

	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	TriggerCount  int64      `gorm:"not null;default:0" json:"trigger_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertStatus is the lifecycle state of a triggered alert
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusSuppressed   AlertStatus = "suppressed"
)

// TriggeredAlert is one instance of a rule firing
type TriggeredAlert struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	UUID        string `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	AlertRuleID uint   `gorm:"not null;index" json:"alert_rule_id"`

	MetricValue float64     `gorm:"not null" json:"metric_value"` // captured at trigger time
	Threshold   float64     `gorm:"not null" json:"threshold"`
	Status      AlertStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`

	EscalationLevel int `gorm:"not null;default:0" json:"escalation_level"`
	ActivePeriods   int `gorm:"not null;default:0" json:"active_periods"` // consecutive evaluation cycles the condition has held

	TriggeredAt     time.Time  `gorm:"not null;index" json:"triggered_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string     `gorm:"size:128" json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `gorm:"size:128" json:"resolved_by,omitempty"`
	ResolutionNotes string     `gorm:"type:text" json:"resolution_notes,omitempty"`

	Version   int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AlertRule AlertRule `gorm:"foreignKey:AlertRuleID" json:"alert_rule,omitempty"`
}

// TableName overrides for explicit table naming
func (Call) TableName() string {
	return "calls"
}

func (AudioFile) TableName() string {
	return "audio_files"
}

func (MetricSample) TableName() string {
	return "metric_samples"
}

func (AlertRule) TableName() string {
	return "alert_rules"
}

func (TriggeredAlert) TableName() string {
	return "triggered_alerts"
}

// GetSeverityEmoji returns an emoji for the alert severity
func GetSeverityEmoji(severity AlertSeverity) string {
	switch severity {
	case AlertSeverityCritical:
		return ":red_circle:"
	case AlertSeverityHigh:
		return ":large_orange_circle:"
	case AlertSeverityWarning:
		return ":large_yellow_circle:"
	case AlertSeverityInfo:
		return ":large_blue_circle:"
	default:
		return ":white_circle:"
	}
}
