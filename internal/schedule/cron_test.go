package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParseCronValid(t *testing.T) {
	valid := []string{
		"* * * * *",
		"0 0 * * *",
		"*/5 * * * *",
		"30 2 * * 1-5",
		"0 12 1 * *",
	}
	for _, expr := range valid {
		if err := ValidateCron(expr); err != nil {
			t.Errorf("ValidateCron(%q) failed: %v", expr, err)
		}
	}
}

func TestParseCronInvalid(t *testing.T) {
	invalid := []string{
		"",
		"not a cron",
		"* * * *",       // too few fields
		"* * * * * *",   // seconds field not accepted
		"61 * * * *",    // minute out of range
		"@every 5m",     // descriptors not enabled
	}
	for _, expr := range invalid {
		err := ValidateCron(expr)
		if err == nil {
			t.Errorf("ValidateCron(%q) should have failed", expr)
			continue
		}
		if !errors.Is(err, ErrInvalidCron) {
			t.Errorf("ValidateCron(%q) should wrap ErrInvalidCron, got %v", expr, err)
		}
	}
}

func TestNextRun(t *testing.T) {
	after := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	next, err := NextRun("0 12 * * *", after)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	want := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}

	// Already past today's slot: rolls over to tomorrow.
	next, err = NextRun("0 9 * * *", after)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	want = time.Date(2026, 1, 16, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}
