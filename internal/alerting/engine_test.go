package alerting

import (
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/radiowatch/radiowatch/internal/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&database.Call{},
		&database.AudioFile{},
		&database.MetricSample{},
		&database.AlertRule{},
		&database.TriggeredAlert{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

type recordingNotifier struct {
	sent []AlertTransition
}

func (n *recordingNotifier) Notify(t AlertTransition) error {
	n.sent = append(n.sent, t)
	return nil
}

func createRule(t *testing.T, db *gorm.DB, rule database.AlertRule) database.AlertRule {
	t.Helper()
	if rule.WindowSeconds == 0 {
		rule.WindowSeconds = 300
	}
	if rule.MinDataPoints == 0 {
		rule.MinDataPoints = 1
	}
	if rule.Severity == "" {
		rule.Severity = database.AlertSeverityWarning
	}
	rule.Enabled = true
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}
	return rule
}

func recordSample(t *testing.T, db *gorm.DB, name string, value float64, at time.Time) {
	t.Helper()
	if err := database.NewMetricStore(db).RecordSample(name, value, at); err != nil {
		t.Fatalf("Failed to record sample: %v", err)
	}
}

func alertCount(t *testing.T, db *gorm.DB, status database.AlertStatus) int64 {
	t.Helper()
	var n int64
	query := db.Model(&database.TriggeredAlert{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&n).Error; err != nil {
		t.Fatalf("Failed to count alerts: %v", err)
	}
	return n
}

func TestEvaluateRulesFireThenResolve(t *testing.T) {
	db := setupTestDB(t)
	notifier := &recordingNotifier{}
	engine := NewEngine(db, notifier)
	now := time.Now().UTC()

	rule := createRule(t, db, database.AlertRule{
		Name:             "high-error-rate",
		MetricName:       "error_rate",
		Operator:         database.OperatorGreaterThan,
		Threshold:        0.05,
		MaxAlertsPerHour: 4,
	})

	recordSample(t, db, "error_rate", 0.08, now.Add(-time.Minute))
	transitions, err := engine.EvaluateRules(now)
	if err != nil {
		t.Fatalf("EvaluateRules failed: %v", err)
	}
	if len(transitions) != 1 || transitions[0].Type != TransitionTriggered {
		t.Fatalf("Expected one triggered transition, got %+v", transitions)
	}
	if transitions[0].MetricValue != 0.08 {
		t.Errorf("Captured value = %g, want 0.08", transitions[0].MetricValue)
	}

	var alert database.TriggeredAlert
	if err := db.Where("alert_rule_id = ?", rule.ID).First(&alert).Error; err != nil {
		t.Fatalf("Failed to load alert: %v", err)
	}
	if alert.Status != database.AlertStatusActive {
		t.Errorf("Alert status = %s, want active", alert.Status)
	}
	if alert.MetricValue != 0.08 || alert.Threshold != 0.05 {
		t.Errorf("Captured value/threshold = %g/%g, want 0.08/0.05", alert.MetricValue, alert.Threshold)
	}

	var reloaded database.AlertRule
	if err := db.First(&reloaded, rule.ID).Error; err != nil {
		t.Fatalf("Failed to reload rule: %v", err)
	}
	if reloaded.TriggerCount != 1 || reloaded.LastTriggered == nil {
		t.Errorf("Rule bookkeeping not updated: count=%d lastTriggered=%v", reloaded.TriggerCount, reloaded.LastTriggered)
	}

	// Condition clears
	later := now.Add(time.Minute)
	recordSample(t, db, "error_rate", 0.01, later)
	transitions, err = engine.EvaluateRules(later)
	if err != nil {
		t.Fatalf("EvaluateRules failed: %v", err)
	}
	if len(transitions) != 1 || transitions[0].Type != TransitionResolved {
		t.Fatalf("Expected one resolved transition, got %+v", transitions)
	}

	if err := db.First(&alert, alert.ID).Error; err != nil {
		t.Fatalf("Failed to reload alert: %v", err)
	}
	if alert.Status != database.AlertStatusResolved {
		t.Errorf("Alert status = %s, want resolved", alert.Status)
	}
	if alert.ResolvedAt == nil {
		t.Error("ResolvedAt not set on auto-resolve")
	}
	if alert.EscalationLevel != 0 {
		t.Errorf("EscalationLevel = %d after resolve, want 0", alert.EscalationLevel)
	}

	if len(notifier.sent) != 2 {
		t.Errorf("Expected 2 notifications (trigger + resolve), got %d", len(notifier.sent))
	}
}

func TestEvaluateRulesDedupesActiveAlert(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)
	now := time.Now().UTC()

	createRule(t, db, database.AlertRule{
		Name:             "backlog-growing",
		MetricName:       "processing_backlog",
		Operator:         database.OperatorGreaterOrEqual,
		Threshold:        100,
		MaxAlertsPerHour: 4,
	})

	recordSample(t, db, "processing_backlog", 150, now.Add(-time.Minute))
	if _, err := engine.EvaluateRules(now); err != nil {
		t.Fatalf("First evaluation failed: %v", err)
	}

	// Same condition still holding on the next cycle
	recordSample(t, db, "processing_backlog", 160, now.Add(time.Minute))
	transitions, err := engine.EvaluateRules(now.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("Second evaluation failed: %v", err)
	}
	for _, tr := range transitions {
		if tr.Type == TransitionTriggered {
			t.Errorf("Second cycle produced a duplicate trigger: %+v", tr)
		}
	}

	if n := alertCount(t, db, ""); n != 1 {
		t.Errorf("Alert rows = %d, want 1 (dedupe)", n)
	}

	// Condition clears: resolve happens exactly once
	recordSample(t, db, "processing_backlog", 10, now.Add(3*time.Minute))
	first, err := engine.EvaluateRules(now.Add(4 * time.Minute))
	if err != nil {
		t.Fatalf("Resolve evaluation failed: %v", err)
	}
	if len(first) != 1 || first[0].Type != TransitionResolved {
		t.Fatalf("Expected single resolved transition, got %+v", first)
	}
	second, err := engine.EvaluateRules(now.Add(5 * time.Minute))
	if err != nil {
		t.Fatalf("Post-resolve evaluation failed: %v", err)
	}
	for _, tr := range second {
		if tr.Type == TransitionResolved {
			t.Errorf("Alert resolved twice: %+v", tr)
		}
	}
}

func TestEvaluateRulesHourlyCap(t *testing.T) {
	db := setupTestDB(t)
	notifier := &recordingNotifier{}
	engine := NewEngine(db, notifier)
	now := time.Now().UTC()

	createRule(t, db, database.AlertRule{
		Name:             "cpu-spike",
		MetricName:       "cpu_usage",
		Operator:         database.OperatorGreaterThan,
		Threshold:        90,
		MaxAlertsPerHour: 1,
	})

	// First firing, then the operator resolves it, then it fires again
	// inside the same hour.
	recordSample(t, db, "cpu_usage", 95, now.Add(-time.Minute))
	transitions, err := engine.EvaluateRules(now)
	if err != nil {
		t.Fatalf("First evaluation failed: %v", err)
	}
	if len(transitions) != 1 || transitions[0].Type != TransitionTriggered {
		t.Fatalf("Expected triggered, got %+v", transitions)
	}
	if err := engine.ResolveAlert(transitions[0].AlertUUID, "operator", "restarted worker"); err != nil {
		t.Fatalf("ResolveAlert failed: %v", err)
	}

	recordSample(t, db, "cpu_usage", 97, now.Add(10*time.Minute))
	transitions, err = engine.EvaluateRules(now.Add(11 * time.Minute))
	if err != nil {
		t.Fatalf("Second evaluation failed: %v", err)
	}
	if len(transitions) != 1 || transitions[0].Type != TransitionSuppressed {
		t.Fatalf("Expected suppressed, got %+v", transitions)
	}

	if n := alertCount(t, db, database.AlertStatusSuppressed); n != 1 {
		t.Errorf("Suppressed alerts = %d, want 1", n)
	}
	if n := alertCount(t, db, database.AlertStatusActive); n != 0 {
		t.Errorf("Active alerts = %d, want 0", n)
	}

	// Suppressed firings never notify
	if len(notifier.sent) != 1 || notifier.sent[0].Type != TransitionTriggered {
		t.Errorf("Expected exactly one notification for the first trigger, got %+v", notifier.sent)
	}
}

func TestEvaluateRulesInsufficientData(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)
	now := time.Now().UTC()

	createRule(t, db, database.AlertRule{
		Name:          "needs-three-points",
		MetricName:    "calls_per_hour",
		Operator:      database.OperatorLessThan,
		Threshold:     1,
		MinDataPoints: 3,
	})

	recordSample(t, db, "calls_per_hour", 0, now.Add(-time.Minute))
	transitions, err := engine.EvaluateRules(now)
	if err != nil {
		t.Fatalf("EvaluateRules failed: %v", err)
	}
	if len(transitions) != 1 || transitions[0].Type != TransitionInsufficientData {
		t.Fatalf("Expected insufficient_data, got %+v", transitions)
	}
	if n := alertCount(t, db, ""); n != 0 {
		t.Errorf("Alert rows = %d, want 0", n)
	}
}

func TestEvaluateRulesSkipsDisabledAndSuppressedWindow(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)
	now := time.Now().UTC()

	disabled := database.AlertRule{
		Name:       "disabled-rule",
		MetricName: "error_rate",
		Operator:   database.OperatorGreaterThan,
		Threshold:  0,
		Severity:   database.AlertSeverityWarning,
		Enabled:    false,
	}
	disabled.WindowSeconds = 300
	disabled.MinDataPoints = 1
	if err := db.Create(&disabled).Error; err != nil {
		t.Fatalf("Failed to create disabled rule: %v", err)
	}

	until := now.Add(time.Hour)
	quiet := createRule(t, db, database.AlertRule{
		Name:       "maintenance-window",
		MetricName: "error_rate",
		Operator:   database.OperatorGreaterThan,
		Threshold:  0,
	})
	if err := db.Model(&database.AlertRule{}).Where("id = ?", quiet.ID).
		Update("suppress_until", until).Error; err != nil {
		t.Fatalf("Failed to set suppress_until: %v", err)
	}

	recordSample(t, db, "error_rate", 0.5, now.Add(-time.Minute))
	transitions, err := engine.EvaluateRules(now)
	if err != nil {
		t.Fatalf("EvaluateRules failed: %v", err)
	}
	if len(transitions) != 0 {
		t.Errorf("Expected no transitions, got %+v", transitions)
	}
	if n := alertCount(t, db, ""); n != 0 {
		t.Errorf("Alert rows = %d, want 0", n)
	}
}

func TestEvaluateRulesEscalation(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)
	now := time.Now().UTC()

	createRule(t, db, database.AlertRule{
		Name:             "sustained-errors",
		MetricName:       "error_rate",
		Operator:         database.OperatorGreaterThan,
		Threshold:        0.05,
		MaxAlertsPerHour: 4,
		EscalationAfter:  2,
	})

	var escalations int
	for i := 0; i < 5; i++ {
		at := now.Add(time.Duration(i) * time.Minute)
		recordSample(t, db, "error_rate", 0.2, at)
		transitions, err := engine.EvaluateRules(at.Add(time.Second))
		if err != nil {
			t.Fatalf("Cycle %d failed: %v", i, err)
		}
		for _, tr := range transitions {
			if tr.Type == TransitionEscalated {
				escalations++
			}
		}
	}

	// Cycle 0 triggers; cycles 1..4 hold, escalating every 2 periods.
	if escalations != 2 {
		t.Errorf("Escalations = %d, want 2", escalations)
	}

	var alert database.TriggeredAlert
	if err := db.Order("id desc").First(&alert).Error; err != nil {
		t.Fatalf("Failed to load alert: %v", err)
	}
	if alert.EscalationLevel != 2 {
		t.Errorf("EscalationLevel = %d, want 2", alert.EscalationLevel)
	}
	if n := alertCount(t, db, ""); n != 1 {
		t.Errorf("Alert rows = %d, want 1", n)
	}
}

func TestAcknowledgedAlertSurvivesClear(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)
	now := time.Now().UTC()

	createRule(t, db, database.AlertRule{
		Name:             "disk-pressure",
		MetricName:       "disk_usage",
		Operator:         database.OperatorGreaterThan,
		Threshold:        80,
		MaxAlertsPerHour: 4,
	})

	recordSample(t, db, "disk_usage", 91, now.Add(-time.Minute))
	transitions, err := engine.EvaluateRules(now)
	if err != nil {
		t.Fatalf("EvaluateRules failed: %v", err)
	}
	alertUUID := transitions[0].AlertUUID

	if err := engine.AcknowledgeAlert(alertUUID, "oncall"); err != nil {
		t.Fatalf("AcknowledgeAlert failed: %v", err)
	}

	// Condition clears but the acknowledged alert must stay open
	recordSample(t, db, "disk_usage", 40, now.Add(time.Minute))
	transitions, err = engine.EvaluateRules(now.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("EvaluateRules failed: %v", err)
	}
	for _, tr := range transitions {
		if tr.Type == TransitionResolved {
			t.Errorf("Acknowledged alert was auto-resolved: %+v", tr)
		}
	}

	var alert database.TriggeredAlert
	if err := db.Where("uuid = ?", alertUUID).First(&alert).Error; err != nil {
		t.Fatalf("Failed to load alert: %v", err)
	}
	if alert.Status != database.AlertStatusAcknowledged {
		t.Errorf("Alert status = %s, want acknowledged", alert.Status)
	}
	if alert.AcknowledgedBy != "oncall" || alert.AcknowledgedAt == nil {
		t.Errorf("Acknowledgment fields not set: by=%q at=%v", alert.AcknowledgedBy, alert.AcknowledgedAt)
	}

	// Explicit resolution still works
	if err := engine.ResolveAlert(alertUUID, "oncall", "cleaned up old recordings"); err != nil {
		t.Fatalf("ResolveAlert failed: %v", err)
	}
	if err := db.Where("uuid = ?", alertUUID).First(&alert).Error; err != nil {
		t.Fatalf("Failed to reload alert: %v", err)
	}
	if alert.Status != database.AlertStatusResolved || alert.ResolutionNotes != "cleaned up old recordings" {
		t.Errorf("Resolution not applied: status=%s notes=%q", alert.Status, alert.ResolutionNotes)
	}
}

func TestOperatorActionsErrorCases(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)

	if err := engine.AcknowledgeAlert("no-such-uuid", "operator"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := engine.ResolveAlert("no-such-uuid", "operator", ""); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	now := time.Now().UTC()
	createRule(t, db, database.AlertRule{
		Name:             "ack-twice",
		MetricName:       "error_rate",
		Operator:         database.OperatorGreaterThan,
		Threshold:        0,
		MaxAlertsPerHour: 4,
	})
	recordSample(t, db, "error_rate", 1, now.Add(-time.Minute))
	transitions, err := engine.EvaluateRules(now)
	if err != nil {
		t.Fatalf("EvaluateRules failed: %v", err)
	}
	alertUUID := transitions[0].AlertUUID

	if err := engine.AcknowledgeAlert(alertUUID, "first"); err != nil {
		t.Fatalf("First acknowledge failed: %v", err)
	}
	if err := engine.AcknowledgeAlert(alertUUID, "second"); !errors.Is(err, database.ErrPrecondition) {
		t.Errorf("Second acknowledge: expected ErrPrecondition, got %v", err)
	}

	if err := engine.ResolveAlert(alertUUID, "operator", "done"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if err := engine.ResolveAlert(alertUUID, "operator", "again"); !errors.Is(err, database.ErrPrecondition) {
		t.Errorf("Second resolve: expected ErrPrecondition, got %v", err)
	}
}

func TestListAlerts(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)
	now := time.Now().UTC()

	rule := createRule(t, db, database.AlertRule{
		Name:             "list-me",
		MetricName:       "error_rate",
		Operator:         database.OperatorGreaterThan,
		Threshold:        0,
		MaxAlertsPerHour: 4,
	})

	recordSample(t, db, "error_rate", 1, now.Add(-time.Minute))
	if _, err := engine.EvaluateRules(now); err != nil {
		t.Fatalf("EvaluateRules failed: %v", err)
	}

	alerts, err := engine.ListAlerts(database.AlertStatusActive, 10)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 active alert, got %d", len(alerts))
	}
	if alerts[0].AlertRule.Name != rule.Name {
		t.Errorf("Preloaded rule name = %q, want %q", alerts[0].AlertRule.Name, rule.Name)
	}

	alerts, err = engine.ListAlerts(database.AlertStatusResolved, 10)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("Expected no resolved alerts, got %d", len(alerts))
	}
}
