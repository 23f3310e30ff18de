package checkpoint

import (
	"log/slog"
	"time"
)

// Scheduler fires a Runner's RunAll once per UTC day, unattended — spec.md
// §4.9's "runs on its own scheduled task per org per day" — mirroring the
// kill switch FileChannel's goroutine/done-channel lifecycle idiom rather
// than a third-party cron library.
type Scheduler struct {
	runner      *Runner
	cron        string // documented cadence, e.g. "0 0 * * *"; logged, not parsed
	utcBoundary bool
	logger      *slog.Logger
	done        chan struct{}
}

// NewScheduler constructs a Scheduler over runner. cron is carried through
// for operator visibility only; the actual cadence is always once per UTC
// day, aligned to midnight when utcBoundary is true and to a rolling 24h
// window from process start otherwise.
func NewScheduler(runner *Runner, cron string, utcBoundary bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:      runner,
		cron:        cron,
		utcBoundary: utcBoundary,
		logger:      logger.With("component", "checkpoint.Scheduler"),
		done:        make(chan struct{}),
	}
}

// Start begins firing RunAll once per day until Stop is called.
func (s *Scheduler) Start() {
	s.logger.Info("checkpoint scheduler started", "cron", s.cron, "utc_boundary", s.utcBoundary)
	go func() {
		for {
			now := time.Now().UTC()
			next := s.nextRun(now)
			timer := time.NewTimer(next.Sub(now))

			select {
			case <-s.done:
				timer.Stop()
				return
			case fired := <-timer.C:
				// Fold the UTC day that has just ended, not the one just begun.
				day := truncateToUTCDay(fired.Add(-24 * time.Hour))
				if _, err := s.runner.RunAll(day, fired); err != nil {
					s.logger.Error("scheduled checkpoint run failed", "date", day.Format("2006-01-02"), "error", err)
					continue
				}
				s.logger.Info("scheduled checkpoint run complete", "date", day.Format("2006-01-02"))
			}
		}
	}()
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() {
	close(s.done)
}

func (s *Scheduler) nextRun(now time.Time) time.Time {
	if s.utcBoundary {
		return truncateToUTCDay(now).Add(24 * time.Hour)
	}
	return now.Add(24 * time.Hour)
}
