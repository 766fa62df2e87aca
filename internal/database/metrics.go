package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// MetricStore is the append-only store for operational metric samples.
// Samples are never updated or deleted by the engine; writers do not
// contend with each other.
type MetricStore struct {
	db *gorm.DB
}

// NewMetricStore creates a new MetricStore
func NewMetricStore(db *gorm.DB) *MetricStore {
	return &MetricStore{db: db}
}

// RecordSample appends one measurement
func (s *MetricStore) RecordSample(name string, value float64, at time.Time) error {
	sample := &MetricSample{
		MetricName: name,
		Value:      value,
		RecordedAt: at,
	}
	if err := s.db.Create(sample).Error; err != nil {
		return fmt.Errorf("failed to record metric %s: %w", name, err)
	}
	return nil
}

// SamplesSince returns samples for a metric recorded at or after the
// given time, oldest first
func (s *MetricStore) SamplesSince(name string, since time.Time) ([]MetricSample, error) {
	var samples []MetricSample
	err := s.db.Where("metric_name = ? AND recorded_at >= ?", name, since).
		Order("recorded_at asc").
		Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load samples for %s: %w", name, err)
	}
	return samples, nil
}

// SamplesInRange returns samples in [from, to], optionally filtered by
// metric name, oldest first
func (s *MetricStore) SamplesInRange(from, to time.Time, name string) ([]MetricSample, error) {
	query := s.db.Where("recorded_at >= ? AND recorded_at <= ?", from, to)
	if name != "" {
		query = query.Where("metric_name = ?", name)
	}
	var samples []MetricSample
	if err := query.Order("recorded_at asc").Find(&samples).Error; err != nil {
		return nil, err
	}
	return samples, nil
}
