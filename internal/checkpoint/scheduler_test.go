package checkpoint

import (
	"testing"
	"time"
)

func TestScheduler_NextRunUTCBoundaryAlignsToMidnight(t *testing.T) {
	s := &Scheduler{utcBoundary: true}
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

	got := s.nextRun(now)

	want := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("nextRun(%v) = %v, want %v", now, got, want)
	}
}

func TestScheduler_NextRunWithoutUTCBoundaryIsRolling(t *testing.T) {
	s := &Scheduler{utcBoundary: false}
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

	got := s.nextRun(now)

	want := now.Add(24 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("nextRun(%v) = %v, want %v", now, got, want)
	}
}

func TestScheduler_StartAndStop(t *testing.T) {
	runner := NewRunner(&fakeEventStore{}, &fakeCheckpointStore{}, nil, nil)
	s := NewScheduler(runner, "0 0 * * *", true, nil)
	s.Start()
	s.Stop()
}
