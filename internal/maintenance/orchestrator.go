package maintenance

import (
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/radiowatch/radiowatch/internal/aggregates"
	"github.com/radiowatch/radiowatch/internal/database"
	"github.com/radiowatch/radiowatch/internal/metrics"
	"github.com/radiowatch/radiowatch/internal/retention"
)

// TaskStatus is the outcome of one maintenance task
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskOutcome records what happened to one task in a cycle
type TaskOutcome struct {
	Task     string        `json:"task"`
	Status   TaskStatus    `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
	Slow     bool          `json:"slow,omitempty"` // exceeded the soft deadline but was allowed to finish
}

// CycleReport is the externally observable result of one maintenance
// cycle. Operators watch failures here, not process crashes.
type CycleReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Outcomes   []TaskOutcome `json:"outcomes"`
}

// FailedCount returns the number of failed tasks in the cycle
func (r *CycleReport) FailedCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == TaskStatusFailed {
			n++
		}
	}
	return n
}

// Task is one maintenance task descriptor. The orchestrator runs tasks
// in slice order; adding, removing or reordering tasks is a data change.
type Task struct {
	Name string
	Run  func(now time.Time) (string, error)
}

// Orchestrator runs the maintenance task list as an ordered batch.
// Each task has its own failure boundary: one task failing never stops
// the tasks after it.
type Orchestrator struct {
	db             *gorm.DB
	tasks          []Task
	softDeadlineFn func() time.Duration

	runMu sync.Mutex // cycles never overlap

	reportMu   sync.RWMutex
	lastReport *CycleReport
}

// NewOrchestrator creates an orchestrator over the given task list.
// The soft deadline is read through softDeadlineFn at the start of each
// cycle so configuration changes apply without a restart.
func NewOrchestrator(db *gorm.DB, tasks []Task, softDeadlineFn func() time.Duration) *Orchestrator {
	return &Orchestrator{
		db:             db,
		tasks:          tasks,
		softDeadlineFn: softDeadlineFn,
	}
}

// FixedDeadline wraps a constant soft deadline for callers that do not
// re-read configuration between cycles
func FixedDeadline(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

// DefaultTasks assembles the standard ordered batch: refresh rollups,
// refresh statistics, retention sweep, index maintenance. Statistics
// run after nothing in particular, but the sweep must precede index
// maintenance so the analyzer sees post-archival data.
func DefaultTasks(db *gorm.DB, refresher *aggregates.Refresher, sampler *metrics.Sampler, sweeper *retention.Sweeper, policyFn func() database.RetentionPolicy) []Task {
	return []Task{
		{
			Name: "refresh_aggregates",
			Run: func(now time.Time) (string, error) {
				if err := refresher.Refresh(now); err != nil {
					return "", err
				}
				rollup := refresher.Current()
				return fmt.Sprintf("rollup over %d calls", rollup.Totals.TotalCalls), nil
			},
		},
		{
			Name: "refresh_statistics",
			Run: func(now time.Time) (string, error) {
				n, err := sampler.CollectStoreSamples(now)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("recorded %d samples", n), nil
			},
		},
		{
			Name: "retention_sweep",
			Run: func(now time.Time) (string, error) {
				result, err := sweeper.Sweep(now, policyFn())
				if err != nil {
					return "", err
				}
				metrics.ObserveSweep(result.ArchivedCount, result.PurgedCount)
				return fmt.Sprintf("archived=%d purged=%d", result.ArchivedCount, result.PurgedCount), nil
			},
		},
		{
			Name: "index_maintenance",
			Run: func(now time.Time) (string, error) {
				if err := db.Exec("ANALYZE").Error; err != nil {
					return "", err
				}
				return "analyzed", nil
			},
		},
	}
}

// RunCycle executes one maintenance cycle. Per-task errors are caught
// and recorded; only total inability to reach the store aborts the
// cycle, and that error surfaces to the caller.
func (o *Orchestrator) RunCycle(now time.Time) (*CycleReport, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if err := database.Ping(o.db); err != nil {
		return nil, fmt.Errorf("maintenance cycle aborted: %w", err)
	}

	softDeadline := o.softDeadlineFn()
	report := &CycleReport{StartedAt: now}
	for _, task := range o.tasks {
		report.Outcomes = append(report.Outcomes, o.runTask(task, now, softDeadline))
	}
	report.FinishedAt = time.Now().UTC()
	metrics.ObserveCycle(report.FinishedAt.Sub(report.StartedAt))

	o.reportMu.Lock()
	o.lastReport = report
	o.reportMu.Unlock()

	return report, nil
}

// LastReport returns the most recent cycle report, or nil before the
// first cycle has run
func (o *Orchestrator) LastReport() *CycleReport {
	o.reportMu.RLock()
	defer o.reportMu.RUnlock()
	return o.lastReport
}

// runTask is the uniform run-and-record boundary around one task
func (o *Orchestrator) runTask(task Task, now time.Time, softDeadline time.Duration) (outcome TaskOutcome) {
	outcome = TaskOutcome{Task: task.Name}
	start := time.Now()

	defer func() {
		outcome.Duration = time.Since(start)
		if softDeadline > 0 && outcome.Duration > softDeadline {
			outcome.Slow = true
			log.Printf("Maintenance task %s was slow: %v (soft deadline %v)", task.Name, outcome.Duration, softDeadline)
		}
		if r := recover(); r != nil {
			outcome.Status = TaskStatusFailed
			outcome.Detail = fmt.Sprintf("panic: %v", r)
			metrics.ObserveTaskFailure(task.Name)
			log.Printf("Maintenance task %s panicked after %v: %v", task.Name, outcome.Duration, r)
		}
	}()

	detail, err := task.Run(now)
	if err != nil {
		outcome.Status = TaskStatusFailed
		outcome.Detail = err.Error()
		metrics.ObserveTaskFailure(task.Name)
		log.Printf("Maintenance task %s failed after %v: %v", task.Name, time.Since(start), err)
		return outcome
	}

	outcome.Status = TaskStatusCompleted
	outcome.Detail = detail
	return outcome
}
