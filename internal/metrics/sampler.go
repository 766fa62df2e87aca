package metrics

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/radiowatch/radiowatch/internal/database"
)

// Metric names recorded by the sampler. Alert rules reference these.
// Names ending in _rate hold precomputed windowed rates; for those the
// alert engine uses the sample value as-is rather than re-deriving it.
const (
	MetricErrorRate         = "error_rate"
	MetricProcessingBacklog = "processing_backlog"
	MetricCallsPerHour      = "calls_per_hour"
	MetricAvgCallDuration   = "avg_call_duration"
)

// Sampler derives operational metric samples from the record store so
// alert rules can watch pipeline health alongside externally produced
// metrics.
type Sampler struct {
	calls   *database.CallStore
	samples *database.MetricStore
}

// NewSampler creates a new sampler
func NewSampler(db *gorm.DB) *Sampler {
	return &Sampler{
		calls:   database.NewCallStore(db),
		samples: database.NewMetricStore(db),
	}
}

// CollectStoreSamples computes and appends one sample per derived
// metric. Returns the number of samples recorded.
func (s *Sampler) CollectStoreSamples(now time.Time) (int, error) {
	total, err := s.calls.CountCalls()
	if err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}
	failed, err := s.calls.CountByState(database.ProcessingStateFailed)
	if err != nil {
		return 0, err
	}
	pending, err := s.calls.CountByState(database.ProcessingStatePending)
	if err != nil {
		return 0, err
	}
	lastHour, err := s.calls.CountCallsSince(now.Add(-time.Hour))
	if err != nil {
		return 0, err
	}
	avgDuration, err := s.calls.AverageDuration()
	if err != nil {
		return 0, err
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	samples := map[string]float64{
		MetricErrorRate:         errorRate,
		MetricProcessingBacklog: float64(pending),
		MetricCallsPerHour:      float64(lastHour),
		MetricAvgCallDuration:   avgDuration,
	}

	recorded := 0
	for name, value := range samples {
		if err := s.samples.RecordSample(name, value, now); err != nil {
			return recorded, err
		}
		recorded++
	}
	return recorded, nil
}
