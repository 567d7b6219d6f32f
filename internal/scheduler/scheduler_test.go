package scheduler

import (
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	id, err := s.AddJob("* * * * *", func() {})
	if err != nil {
		t.Fatalf("Expected no error adding job, got %v", err)
	}
	if next := s.Next(id); next.IsZero() || next.Before(time.Now()) {
		t.Errorf("expected a future activation, got %v", next)
	}
}

func TestSchedulerRejectsBadExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if _, err := s.AddJob("every tuesday", func() {}); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestValidate(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 8 * * 1-5", "@every 1m", "@hourly"} {
		if err := Validate(expr); err != nil {
			t.Errorf("Validate(%q) failed: %v", expr, err)
		}
	}
	if err := Validate("* * *"); err == nil {
		t.Error("expected error for short expression")
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	s := NewScheduler()
	ran := make(chan struct{}, 1)
	if _, err := s.AddJob("@every 1s", func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Error("job did not run")
	}
	<-s.Stop().Done()
}
