// README: The engine's recurring jobs.
package scheduler

import (
	"context"
	"time"
)

const (
	TaskRetrySweep    = "retry-sweep"
	TaskETARecalc     = "eta-recalc"
	TaskRatingRefresh = "rating-refresh"

	// startupDelay is when every background task first runs after boot.
	startupDelay = 5 * time.Second
)

type Config struct {
	EtaIntervalSeconds    int
	RatingIntervalSeconds int
	RetryHourlyAligned    bool
	// StartupDelay defaults to 5s.
	StartupDelay time.Duration
}

func DefaultConfig() Config {
	return Config{EtaIntervalSeconds: 900, RatingIntervalSeconds: 86400, RetryHourlyAligned: true, StartupDelay: startupDelay}
}

// Jobs are the engine operations the background tasks drive.
type Jobs struct {
	RetrySweep    Job
	ETARecalc     Job
	RatingRefresh Job
}

// StartBackgroundSchedules registers and starts the retry sweep (hourly),
// ETA recalculation and rating refresh. Each also runs once shortly after start.
func StartBackgroundSchedules(ctx context.Context, cfg Config, jobs Jobs) (*Scheduler, error) {
	s, err := NewBackground(cfg, jobs)
	if err != nil {
		return nil, err
	}
	s.Start(ctx)
	return s, nil
}

// NewBackground registers the background tasks without starting them; they
// can still be run with RunNow.
func NewBackground(cfg Config, jobs Jobs) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.EtaIntervalSeconds <= 0 {
		cfg.EtaIntervalSeconds = def.EtaIntervalSeconds
	}
	if cfg.RatingIntervalSeconds <= 0 {
		cfg.RatingIntervalSeconds = def.RatingIntervalSeconds
	}
	if cfg.StartupDelay <= 0 {
		cfg.StartupDelay = def.StartupDelay
	}

	var retry Schedule = HourlyAligned{}
	if !cfg.RetryHourlyAligned {
		retry = Every(time.Hour)
	}

	s := New()
	tasks := []Task{
		{Name: TaskRetrySweep, Schedule: retry, StartDelay: cfg.StartupDelay, Job: jobs.RetrySweep},
		{Name: TaskETARecalc, Schedule: Every(time.Duration(cfg.EtaIntervalSeconds) * time.Second), StartDelay: cfg.StartupDelay, Job: jobs.ETARecalc},
		{Name: TaskRatingRefresh, Schedule: Every(time.Duration(cfg.RatingIntervalSeconds) * time.Second), StartDelay: cfg.StartupDelay, Job: jobs.RatingRefresh},
	}
	for _, t := range tasks {
		if t.Job == nil {
			continue
		}
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}
