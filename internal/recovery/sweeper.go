package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/config"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@every 1m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a usable sweep schedule.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("recovery: invalid sweep schedule %q: %w", expr, err)
	}
	return nil
}

// Reloader refreshes the platform policy before each sweep.
type Reloader interface {
	Reload(ctx context.Context) (config.Platform, error)
}

// Sweeper runs Policy.Sweep on a cron schedule. Overlapping runs are
// skipped rather than queued.
type Sweeper struct {
	policy *Policy
	reload Reloader
	cron   *cron.Cron
	log    zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewSweeper creates a Sweeper firing on schedule. reload may be nil.
func NewSweeper(policy *Policy, schedule string, reload Reloader, log zerolog.Logger) (*Sweeper, error) {
	if policy == nil {
		return nil, fmt.Errorf("recovery: policy is required")
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	s := &Sweeper{policy: policy, reload: reload, log: log}
	cl := cronLogger{log: log}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("recovery: schedule sweep: %w", err)
	}
	return s, nil
}

// Start begins firing. Sweeps run with a context derived from ctx.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.log.Info().Msg("idle sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	cancel()
	s.log.Info().Msg("idle sweeper stopped")
}

// RunOnce reloads the policy and sweeps immediately. A failed reload keeps
// the previous policy and still sweeps.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	if s.reload != nil {
		if _, err := s.reload.Reload(ctx); err != nil {
			s.log.Warn().Err(err).Msg("settings reload failed; using previous policy")
		}
	}
	return s.policy.Sweep(ctx)
}

func (s *Sweeper) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("idle sweep failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
