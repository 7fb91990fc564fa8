package schedule

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type submitRecorder struct {
	mu    sync.Mutex
	tasks []string
	err   error
}

func (r *submitRecorder) submit(ctx context.Context, taskID string, sched *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, taskID)
	return nil
}

func (r *submitRecorder) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tasks...)
}

func TestRunnerChecksDueSchedules(t *testing.T) {
	store := newTestStore(t)
	rec := &submitRecorder{}
	runner := NewRunner(store, rec.submit, func(string) bool { return false })

	sched := &Schedule{Name: "due", CronExpr: "* * * * *", Prompt: "x", Workspace: "/tmp", Enabled: true}
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Force the schedule to be overdue.
	past := time.Now().Add(-time.Minute)
	if err := store.MarkRun(sched.ID, "", past, past); err != nil {
		t.Fatalf("MarkRun failed: %v", err)
	}

	runner.checkDueSchedules()

	tasks := rec.submitted()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(tasks))
	}
	if !strings.HasPrefix(tasks[0], "sched-"+sched.ID+"-") {
		t.Errorf("unexpected task id: %q", tasks[0])
	}

	got, err := store.Get(sched.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LastTaskID != tasks[0] {
		t.Errorf("last task id not recorded: %q", got.LastTaskID)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now().Add(-time.Second)) {
		t.Errorf("next run should advance, got %v", got.NextRunAt)
	}
}

func TestRunnerSkipsWhilePreviousTaskRuns(t *testing.T) {
	store := newTestStore(t)
	rec := &submitRecorder{}
	runner := NewRunner(store, rec.submit, func(taskID string) bool { return taskID == "task-live" })

	sched := &Schedule{Name: "busy", CronExpr: "* * * * *", Prompt: "x", Workspace: "/tmp", Enabled: true}
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	if err := store.MarkRun(sched.ID, "task-live", past, past); err != nil {
		t.Fatalf("MarkRun failed: %v", err)
	}

	runner.checkDueSchedules()

	if tasks := rec.submitted(); len(tasks) != 0 {
		t.Errorf("schedule with a running task should be skipped, submitted %v", tasks)
	}

	// The next due time still advances so the schedule does not refire each tick.
	got, err := store.Get(sched.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(past) {
		t.Errorf("next run should advance on skip, got %v", got.NextRunAt)
	}
}

func TestRunnerTriggerNow(t *testing.T) {
	store := newTestStore(t)
	rec := &submitRecorder{}
	runner := NewRunner(store, rec.submit, nil)

	sched := &Schedule{ID: "sched_manual", Name: "manual", CronExpr: "0 0 1 1 *", Prompt: "x", Workspace: "/tmp", Enabled: true}
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	taskID, err := runner.TriggerNow(sched)
	if err != nil {
		t.Fatalf("TriggerNow failed: %v", err)
	}
	if !strings.HasPrefix(taskID, "sched-sched_manual-") {
		t.Errorf("unexpected task id: %q", taskID)
	}

	rec.err = errors.New("at capacity")
	if _, err := runner.TriggerNow(sched); err == nil {
		t.Error("TriggerNow should surface submit failures")
	}
}
