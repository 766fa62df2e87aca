package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/radiowatch/radiowatch/internal/database"
)

// ruleSpec is the YAML shape of one alert rule definition
type ruleSpec struct {
	Name             string  `yaml:"name"`
	Description      string  `yaml:"description"`
	Metric           string  `yaml:"metric"`
	Operator         string  `yaml:"operator"`
	Threshold        float64 `yaml:"threshold"`
	WindowSeconds    int     `yaml:"window_seconds"`
	MinDataPoints    int     `yaml:"min_data_points"`
	Severity         string  `yaml:"severity"`
	MaxAlertsPerHour int     `yaml:"max_alerts_per_hour"`
	EscalationAfter  int     `yaml:"escalation_after"`
}

type rulesFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// LoadDefaultRules reads alert rule definitions from a YAML file. An
// empty path returns the built-in defaults.
func LoadDefaultRules(path string) ([]database.AlertRule, error) {
	if path == "" {
		return builtinDefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	rules := make([]database.AlertRule, 0, len(file.Rules))
	for _, spec := range file.Rules {
		rule, err := spec.toRule()
		if err != nil {
			return nil, fmt.Errorf("invalid rule in %s: %w", path, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s ruleSpec) toRule() (database.AlertRule, error) {
	if s.Name == "" {
		return database.AlertRule{}, fmt.Errorf("rule is missing a name")
	}
	if s.Metric == "" {
		return database.AlertRule{}, fmt.Errorf("rule %s is missing a metric", s.Name)
	}

	op := database.ThresholdOperator(s.Operator)
	switch op {
	case database.OperatorGreaterThan, database.OperatorLessThan,
		database.OperatorGreaterOrEqual, database.OperatorLessOrEqual,
		database.OperatorEqual, database.OperatorNotEqual:
	default:
		return database.AlertRule{}, fmt.Errorf("rule %s has unknown operator %q", s.Name, s.Operator)
	}

	severity := database.AlertSeverity(s.Severity)
	switch severity {
	case database.AlertSeverityCritical, database.AlertSeverityHigh,
		database.AlertSeverityWarning, database.AlertSeverityInfo:
	case "":
		severity = database.AlertSeverityWarning
	default:
		return database.AlertRule{}, fmt.Errorf("rule %s has unknown severity %q", s.Name, s.Severity)
	}

	rule := database.AlertRule{
		Name:             s.Name,
		Description:      s.Description,
		MetricName:       s.Metric,
		Operator:         op,
		Threshold:        s.Threshold,
		WindowSeconds:    s.WindowSeconds,
		MinDataPoints:    s.MinDataPoints,
		Severity:         severity,
		Enabled:          true,
		MaxAlertsPerHour: s.MaxAlertsPerHour,
		EscalationAfter:  s.EscalationAfter,
	}
	if rule.WindowSeconds <= 0 {
		rule.WindowSeconds = 300
	}
	if rule.MinDataPoints <= 0 {
		rule.MinDataPoints = 1
	}
	if rule.MaxAlertsPerHour <= 0 {
		rule.MaxAlertsPerHour = 4
	}
	return rule, nil
}

// builtinDefaultRules covers the store-derived metrics the sampler
// always records
func builtinDefaultRules() []database.AlertRule {
	return []database.AlertRule{
		{
			Name:             "high-error-rate",
			Description:      "Processing error rate over the last window",
			MetricName:       "error_rate",
			Operator:         database.OperatorGreaterThan,
			Threshold:        0.05,
			WindowSeconds:    300,
			MinDataPoints:    1,
			Severity:         database.AlertSeverityCritical,
			Enabled:          true,
			MaxAlertsPerHour: 4,
			EscalationAfter:  3,
		},
		{
			Name:             "processing-backlog",
			Description:      "Calls waiting for processing",
			MetricName:       "processing_backlog",
			Operator:         database.OperatorGreaterOrEqual,
			Threshold:        500,
			WindowSeconds:    300,
			MinDataPoints:    1,
			Severity:         database.AlertSeverityHigh,
			Enabled:          true,
			MaxAlertsPerHour: 4,
		},
		{
			Name:             "ingest-stalled",
			Description:      "No calls received in the last hour",
			MetricName:       "calls_per_hour",
			Operator:         database.OperatorEqual,
			Threshold:        0,
			WindowSeconds:    600,
			MinDataPoints:    2,
			Severity:         database.AlertSeverityWarning,
			Enabled:          true,
			MaxAlertsPerHour: 2,
		},
	}
}
