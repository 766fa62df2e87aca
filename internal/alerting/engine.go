package alerting

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/radiowatch/radiowatch/internal/database"
	"github.com/radiowatch/radiowatch/internal/metrics"
)

// TransitionType classifies one alert state change produced by an
// evaluation pass
type TransitionType string

const (
	TransitionTriggered        TransitionType = "triggered"
	TransitionSuppressed       TransitionType = "suppressed"
	TransitionEscalated        TransitionType = "escalated"
	TransitionResolved         TransitionType = "resolved"
	TransitionInsufficientData TransitionType = "insufficient_data"
)

// AlertTransition is one entry in the evaluation pass's transition
// list. The list, together with the stored alerts, is the queryable
// record of what the engine did.
type AlertTransition struct {
	Type            TransitionType         `json:"type"`
	RuleID          uint                   `json:"rule_id"`
	RuleName        string                 `json:"rule_name"`
	Severity        database.AlertSeverity `json:"severity"`
	AlertUUID       string                 `json:"alert_uuid,omitempty"`
	MetricValue     float64                `json:"metric_value,omitempty"`
	Threshold       float64                `json:"threshold,omitempty"`
	EscalationLevel int                    `json:"escalation_level,omitempty"`
	Detail          string                 `json:"detail,omitempty"`
	At              time.Time              `json:"at"`
}

// Engine evaluates alert rules against stored metric samples and owns
// the triggered-alert lifecycle. Only operator acknowledge/resolve
// actions mutate alerts from outside the engine.
type Engine struct {
	db       *gorm.DB
	samples  *database.MetricStore
	notifier Notifier

	mu sync.Mutex // evaluation passes never overlap
}

// NewEngine creates an engine. notifier may be nil, in which case
// transitions are logged but not dispatched anywhere.
func NewEngine(db *gorm.DB, notifier Notifier) *Engine {
	return &Engine{
		db:       db,
		samples:  database.NewMetricStore(db),
		notifier: notifier,
	}
}

// EvaluateRules runs one evaluation pass over all enabled rules. A
// failure evaluating one rule is logged and recorded; it never stops
// the rules after it.
func (e *Engine) EvaluateRules(now time.Time) ([]AlertTransition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var rules []database.AlertRule
	if err := e.db.Where("enabled = ?", true).Order("id asc").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to load alert rules: %w", err)
	}

	var transitions []AlertTransition
	for _, rule := range rules {
		if rule.SuppressUntil != nil && now.Before(*rule.SuppressUntil) {
			continue
		}
		t, err := e.evaluateRule(rule, now)
		if err != nil {
			log.Printf("Alert rule %s evaluation failed: %v", rule.Name, err)
			continue
		}
		if t != nil {
			transitions = append(transitions, *t)
			metrics.ObserveAlertTransition(string(t.Type))
			e.dispatch(*t)
		}
	}

	e.updateActiveGauge()
	return transitions, nil
}

// evaluateRule runs the per-rule state machine and returns the
// resulting transition, or nil when nothing changed
func (e *Engine) evaluateRule(rule database.AlertRule, now time.Time) (*AlertTransition, error) {
	window := time.Duration(rule.WindowSeconds) * time.Second
	samples, err := e.samples.SamplesSince(rule.MetricName, now.Add(-window))
	if err != nil {
		return nil, err
	}

	if len(samples) < rule.MinDataPoints {
		return &AlertTransition{
			Type:     TransitionInsufficientData,
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Severity: rule.Severity,
			Detail:   fmt.Sprintf("%d samples in window, need %d", len(samples), rule.MinDataPoints),
			At:       now,
		}, nil
	}

	// Windowed rates are stored precomputed by the sampler, so the
	// latest sample is always the comparison value.
	value := samples[len(samples)-1].Value
	fired := compare(value, rule.Operator, rule.Threshold)

	existing, err := e.openAlertForRule(rule.ID)
	if err != nil {
		return nil, err
	}

	if fired {
		if existing != nil {
			return e.holdAlert(rule, existing, now)
		}
		return e.openAlert(rule, value, now)
	}

	if existing != nil && existing.Status == database.AlertStatusActive {
		return e.autoResolve(rule, existing, now)
	}
	// Acknowledged alerts survive clears; resolving them is a human
	// commitment, not the engine's.
	return nil, nil
}

// openAlertForRule returns the rule's current active or acknowledged
// alert, if any
func (e *Engine) openAlertForRule(ruleID uint) (*database.TriggeredAlert, error) {
	var alert database.TriggeredAlert
	err := e.db.Where("alert_rule_id = ? AND status IN ?", ruleID,
		[]database.AlertStatus{database.AlertStatusActive, database.AlertStatusAcknowledged}).
		Order("triggered_at desc").
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// openAlert creates a new triggered alert for a firing rule. When the
// rule has already hit its hourly cap the alert is recorded as
// suppressed and nothing is dispatched.
func (e *Engine) openAlert(rule database.AlertRule, value float64, now time.Time) (*AlertTransition, error) {
	var recentCount int64
	err := e.db.Model(&database.TriggeredAlert{}).
		Where("alert_rule_id = ? AND triggered_at > ?", rule.ID, now.Add(-time.Hour)).
		Count(&recentCount).Error
	if err != nil {
		return nil, err
	}

	status := database.AlertStatusActive
	transitionType := TransitionTriggered
	if rule.MaxAlertsPerHour > 0 && recentCount >= int64(rule.MaxAlertsPerHour) {
		status = database.AlertStatusSuppressed
		transitionType = TransitionSuppressed
	}

	alert := &database.TriggeredAlert{
		UUID:        uuid.New().String(),
		AlertRuleID: rule.ID,
		MetricValue: value,
		Threshold:   rule.Threshold,
		Status:      status,
		TriggeredAt: now,
		Version:     1,
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(alert).Error; err != nil {
			return err
		}
		return tx.Model(&database.AlertRule{}).Where("id = ?", rule.ID).
			Updates(map[string]interface{}{
				"last_triggered": now,
				"trigger_count":  gorm.Expr("trigger_count + 1"),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record alert for rule %s: %w", rule.Name, err)
	}

	log.Printf("Alert %s for rule %s: value %g %s %g", transitionType, rule.Name, value, rule.Operator, rule.Threshold)
	return &AlertTransition{
		Type:        transitionType,
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		AlertUUID:   alert.UUID,
		MetricValue: value,
		Threshold:   rule.Threshold,
		At:          now,
	}, nil
}

// holdAlert advances an already-open alert through another active
// period. No new row is created; the escalation ladder may raise the
// level once the configured run of consecutive periods is reached.
func (e *Engine) holdAlert(rule database.AlertRule, alert *database.TriggeredAlert, now time.Time) (*AlertTransition, error) {
	periods := alert.ActivePeriods + 1
	level := alert.EscalationLevel
	escalated := false
	if rule.EscalationAfter > 0 && periods >= rule.EscalationAfter {
		level++
		periods = 0
		escalated = true
	}

	result := e.db.Model(&database.TriggeredAlert{}).
		Where("id = ? AND version = ?", alert.ID, alert.Version).
		Updates(map[string]interface{}{
			"active_periods":   periods,
			"escalation_level": level,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// An operator action won the race; their write stands and
		// the next pass sees the new state.
		return nil, nil
	}

	if !escalated {
		return nil, nil
	}

	log.Printf("Alert for rule %s escalated to level %d", rule.Name, level)
	return &AlertTransition{
		Type:            TransitionEscalated,
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		Severity:        rule.Severity,
		AlertUUID:       alert.UUID,
		MetricValue:     alert.MetricValue,
		Threshold:       alert.Threshold,
		EscalationLevel: level,
		At:              now,
	}, nil
}

// autoResolve closes an active alert whose condition has cleared
func (e *Engine) autoResolve(rule database.AlertRule, alert *database.TriggeredAlert, now time.Time) (*AlertTransition, error) {
	result := e.db.Model(&database.TriggeredAlert{}).
		Where("id = ? AND version = ? AND status = ?", alert.ID, alert.Version, database.AlertStatusActive).
		Updates(map[string]interface{}{
			"status":           database.AlertStatusResolved,
			"resolved_at":      now,
			"escalation_level": 0,
			"active_periods":   0,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	log.Printf("Alert for rule %s auto-resolved", rule.Name)
	return &AlertTransition{
		Type:        TransitionResolved,
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		AlertUUID:   alert.UUID,
		MetricValue: alert.MetricValue,
		Threshold:   alert.Threshold,
		At:          now,
	}, nil
}

// AcknowledgeAlert marks an active alert as acknowledged by an
// operator. Acknowledged alerts are not auto-resolved by the engine.
func (e *Engine) AcknowledgeAlert(alertUUID, by string) error {
	var alert database.TriggeredAlert
	err := e.db.Where("uuid = ?", alertUUID).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("alert %s: %w", alertUUID, database.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if alert.Status != database.AlertStatusActive {
		return fmt.Errorf("alert %s is %s, only active alerts can be acknowledged: %w",
			alertUUID, alert.Status, database.ErrPrecondition)
	}

	now := time.Now().UTC()
	result := e.db.Model(&database.TriggeredAlert{}).
		Where("id = ? AND version = ?", alert.ID, alert.Version).
		Updates(map[string]interface{}{
			"status":          database.AlertStatusAcknowledged,
			"acknowledged_at": now,
			"acknowledged_by": by,
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("alert %s changed underneath the acknowledgment: %w", alertUUID, database.ErrConflict)
	}

	e.updateActiveGauge()
	log.Printf("Alert %s acknowledged by %s", alertUUID, by)
	return nil
}

// ResolveAlert closes an alert on explicit operator action
func (e *Engine) ResolveAlert(alertUUID, by, notes string) error {
	var alert database.TriggeredAlert
	err := e.db.Where("uuid = ?", alertUUID).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("alert %s: %w", alertUUID, database.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if alert.Status == database.AlertStatusResolved {
		return fmt.Errorf("alert %s is already resolved: %w", alertUUID, database.ErrPrecondition)
	}

	now := time.Now().UTC()
	result := e.db.Model(&database.TriggeredAlert{}).
		Where("id = ? AND version = ?", alert.ID, alert.Version).
		Updates(map[string]interface{}{
			"status":           database.AlertStatusResolved,
			"resolved_at":      now,
			"resolved_by":      by,
			"resolution_notes": notes,
			"escalation_level": 0,
			"active_periods":   0,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("alert %s changed underneath the resolution: %w", alertUUID, database.ErrConflict)
	}

	e.updateActiveGauge()
	log.Printf("Alert %s resolved by %s", alertUUID, by)
	return nil
}

// ListAlerts returns triggered alerts with their rules, newest first,
// optionally filtered by status
func (e *Engine) ListAlerts(status database.AlertStatus, limit int) ([]database.TriggeredAlert, error) {
	query := e.db.Preload("AlertRule").Order("triggered_at desc")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var alerts []database.TriggeredAlert
	if err := query.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// dispatch hands a transition to the notifier. Suppressed firings and
// data-quality reports stay internal.
func (e *Engine) dispatch(t AlertTransition) {
	if e.notifier == nil {
		return
	}
	if t.Type == TransitionSuppressed || t.Type == TransitionInsufficientData {
		return
	}
	if err := e.notifier.Notify(t); err != nil {
		log.Printf("Failed to dispatch %s notification for rule %s: %v", t.Type, t.RuleName, err)
	}
}

func (e *Engine) updateActiveGauge() {
	var n int64
	if err := e.db.Model(&database.TriggeredAlert{}).
		Where("status = ?", database.AlertStatusActive).
		Count(&n).Error; err != nil {
		return
	}
	metrics.SetActiveAlerts(n)
}

// compare applies a threshold operator to a sampled value
func compare(value float64, op database.ThresholdOperator, threshold float64) bool {
	switch op {
	case database.OperatorGreaterThan:
		return value > threshold
	case database.OperatorLessThan:
		return value < threshold
	case database.OperatorGreaterOrEqual:
		return value >= threshold
	case database.OperatorLessOrEqual:
		return value <= threshold
	case database.OperatorEqual:
		return value == threshold
	case database.OperatorNotEqual:
		return value != threshold
	default:
		return false
	}
}
