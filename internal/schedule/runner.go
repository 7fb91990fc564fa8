package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coderelay/coderelay/internal/audit"
	"github.com/coderelay/coderelay/internal/logger"
	"github.com/coderelay/coderelay/internal/metrics"
)

// SubmitFunc submits one task for a due schedule and returns the task id.
type SubmitFunc func(ctx context.Context, taskID string, sched *Schedule) error

// TaskActiveFunc reports whether a previously submitted task is still running.
type TaskActiveFunc func(taskID string) bool

// Runner wakes every minute, finds due schedules, and submits a task for
// each. A schedule whose previous task is still running is skipped until the
// next wake.
type Runner struct {
	store      *Store
	submit     SubmitFunc
	taskActive TaskActiveFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a schedule runner.
func NewRunner(store *Store, submit SubmitFunc, taskActive TaskActiveFunc) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:      store,
		submit:     submit,
		taskActive: taskActive,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the scheduler loop
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
	logger.Info("Schedule runner started")
}

// Stop gracefully stops the runner
func (r *Runner) Stop() {
	logger.Info("Stopping schedule runner...")
	r.cancel()
	r.wg.Wait()
	logger.Info("Schedule runner stopped")
}

// loop runs every minute to check for due schedules
func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Run immediately on start
	r.checkDueSchedules()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.checkDueSchedules()
		}
	}
}

// checkDueSchedules finds and submits due schedules
func (r *Runner) checkDueSchedules() {
	now := time.Now()
	schedules, err := r.store.ListDue(now)
	if err != nil {
		logger.Error("Failed to list due schedules: %v", err)
		return
	}

	for _, sched := range schedules {
		r.runSchedule(sched, now)
	}
}

// runSchedule submits one task for a due schedule. The previous run still
// being active skips this wake; the next due time advances either way so the
// schedule does not fire on every tick.
func (r *Runner) runSchedule(sched *Schedule, now time.Time) {
	nextRun, err := NextRun(sched.CronExpr, now)
	if err != nil {
		logger.Error("Failed to calculate next run for schedule %s: %v", sched.ID, err)
		return
	}

	if sched.LastTaskID != "" && r.taskActive != nil && r.taskActive(sched.LastTaskID) {
		logger.Info("Skipping schedule %s (%s): previous task %s still running",
			sched.ID, sched.Name, sched.LastTaskID)
		metrics.RecordScheduledRun("skipped")
		if err := r.store.MarkRun(sched.ID, sched.LastTaskID, now, nextRun); err != nil {
			logger.Error("Failed to update run times for schedule %s: %v", sched.ID, err)
		}
		return
	}

	taskID := fmt.Sprintf("sched-%s-%s", sched.ID, uuid.New().String()[:8])
	logger.Info("Executing schedule %s (%s) as task %s", sched.ID, sched.Name, taskID)

	if err := r.submit(r.ctx, taskID, sched); err != nil {
		logger.Error("Failed to submit task for schedule %s: %v", sched.ID, err)
		metrics.RecordScheduledRun("failed")
		audit.LogFailure(audit.OpScheduleTrigger, taskID, "", err)
	} else {
		metrics.RecordScheduledRun("submitted")
		audit.LogSuccess(audit.OpScheduleTrigger, taskID, "")
	}

	if err := r.store.MarkRun(sched.ID, taskID, now, nextRun); err != nil {
		logger.Error("Failed to update run times for schedule %s: %v", sched.ID, err)
	}
}

// TriggerNow submits a schedule immediately, outside its cron cadence.
func (r *Runner) TriggerNow(sched *Schedule) (string, error) {
	taskID := fmt.Sprintf("sched-%s-%s", sched.ID, uuid.New().String()[:8])
	logger.Info("Manually triggering schedule %s (%s) as task %s", sched.ID, sched.Name, taskID)

	if err := r.submit(r.ctx, taskID, sched); err != nil {
		metrics.RecordScheduledRun("failed")
		return "", err
	}
	metrics.RecordScheduledRun("submitted")
	return taskID, nil
}
