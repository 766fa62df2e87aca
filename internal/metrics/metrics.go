package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsArchivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "radiowatch",
		Name:      "calls_archived_total",
		Help:      "Total number of call records archived by the retention sweep.",
	})

	callsPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "radiowatch",
		Name:      "calls_purged_total",
		Help:      "Total number of archived call records permanently purged.",
	})

	maintenanceCycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "radiowatch",
		Name:      "maintenance_cycle_seconds",
		Help:      "Duration of a full maintenance cycle in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	maintenanceTaskFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiowatch",
			Name:      "maintenance_task_failures_total",
			Help:      "Total number of maintenance task failures, partitioned by task.",
		},
		[]string{"task"},
	)

	alertTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiowatch",
			Name:      "alert_transitions_total",
			Help:      "Total number of alert lifecycle transitions, partitioned by type.",
		},
		[]string{"type"},
	)

	activeAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "radiowatch",
		Name:      "active_alerts",
		Help:      "Number of alerts currently in the active state.",
	})
)

// Register attaches all radiowatch collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		callsArchivedTotal,
		callsPurgedTotal,
		maintenanceCycleSeconds,
		maintenanceTaskFailures,
		alertTransitionsTotal,
		activeAlerts,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSweep records the outcome of one retention sweep
func ObserveSweep(archived, purged int64) {
	callsArchivedTotal.Add(float64(archived))
	callsPurgedTotal.Add(float64(purged))
}

// ObserveCycle records the duration of one maintenance cycle
func ObserveCycle(duration time.Duration) {
	maintenanceCycleSeconds.Observe(duration.Seconds())
}

// ObserveTaskFailure counts a failed maintenance task
func ObserveTaskFailure(task string) {
	maintenanceTaskFailures.WithLabelValues(task).Inc()
}

// ObserveAlertTransition counts one alert lifecycle transition
func ObserveAlertTransition(transitionType string) {
	alertTransitionsTotal.WithLabelValues(transitionType).Inc()
}

// SetActiveAlerts publishes the current number of active alerts
func SetActiveAlerts(n int64) {
	activeAlerts.Set(float64(n))
}
