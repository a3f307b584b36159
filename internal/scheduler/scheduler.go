// Package scheduler runs the periodic sweeps on cron schedules and exposes
// the same jobs for manual triggering. A job never overlaps with itself:
// scheduled and manual runs share one in-process guard, and an optional
// Redis lock keeps replicas from running the same job concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// ErrAlreadyRunning is returned by Trigger while the job is in flight.
var ErrAlreadyRunning = fmt.Errorf("already running: %w", apperr.ErrDuplicate)

// Job outcome labels.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Job is one periodic task. Run returns a summary for manual triggers.
type Job struct {
	Name string
	// Spec is a standard 5-field cron expression or a descriptor such as @hourly.
	Spec string
	Run  func(ctx context.Context) (any, error)
	// AlertKind names the admin alert sent when a scheduled run fails.
	AlertKind string
}

// JobObserver records job runs, typically in metrics.
type JobObserver interface {
	ObserveJob(job, status string, elapsed time.Duration)
}

// Alerter sends the admin alert for a failed scheduled run.
type Alerter interface {
	SendErrorAlert(ctx context.Context, p notify.ErrorPayload) (string, error)
}

// Config tunes the scheduler.
type Config struct {
	Location   *time.Location
	LockTTL    time.Duration
	JobTimeout time.Duration
}

type entry struct {
	job     Job
	id      cron.EntryID
	running sync.Mutex
}

// Scheduler owns the cron loop.
type Scheduler struct {
	cron     *cron.Cron
	cfg      Config
	locker   Locker
	observer JobObserver
	alerter  Alerter
	logger   *logging.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	base    context.Context
	now     func() time.Time
}

// New creates a scheduler. locker, observer and alerter may be nil.
func New(cfg Config, locker Locker, observer JobObserver, alerter Alerter, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 20 * time.Minute
	}
	cl := cronLogger{logger}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(cfg.Location), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		cfg:      cfg,
		locker:   locker,
		observer: observer,
		alerter:  alerter,
		logger:   logger,
		entries:  make(map[string]*entry),
		base:     context.Background(),
		now:      time.Now,
	}
}

// Register adds a job. An empty Spec registers a trigger-only job.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job name and run func required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}
	e := &entry{job: job}
	if job.Spec != "" {
		if _, err := cron.ParseStandard(job.Spec); err != nil {
			return fmt.Errorf("scheduler: invalid cron expression for %s: %w", job.Name, err)
		}
		cl := cronLogger{s.logger}
		id, err := s.cron.AddJob(job.Spec, cron.NewChain(cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
			s.runScheduled(e)
		})))
		if err != nil {
			return fmt.Errorf("scheduler: add %s: %w", job.Name, err)
		}
		e.id = id
	}
	s.entries[job.Name] = e
	return nil
}

// Start begins the cron loop. ctx bounds every scheduled run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("job scheduler started", "jobs", len(s.entries), "timezone", s.cfg.Location.String())
}

// Stop halts the cron loop and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("job scheduler stopped")
	return ctx
}

// Trigger runs a job now and returns its summary. It returns
// ErrAlreadyRunning if the job is running here or on another replica.
func (s *Scheduler) Trigger(ctx context.Context, name string) (any, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scheduler: job %q: %w", name, apperr.ErrNotFound)
	}
	return s.run(ctx, e)
}

// EntryInfo describes a registered job.
type EntryInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec,omitempty"`
	NextRun time.Time `json:"nextRun,omitempty"`
	Running bool      `json:"running"`
}

// Entries lists registered jobs sorted by name.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for name, e := range s.entries {
		info := EntryInfo{Name: name, Spec: e.job.Spec}
		if e.id != 0 {
			info.NextRun = s.cron.Entry(e.id).Next
		}
		if e.running.TryLock() {
			e.running.Unlock()
		} else {
			info.Running = true
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) runScheduled(e *entry) {
	s.mu.RLock()
	base := s.base
	s.mu.RUnlock()

	_, err := s.run(base, e)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyRunning):
		return
	}
	s.logger.Error("scheduled job failed", "job", e.job.Name, "error", err)
	if s.alerter == nil || e.job.AlertKind == "" {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(base), 30*time.Second)
	defer cancel()
	if _, aerr := s.alerter.SendErrorAlert(actx, notify.ErrorPayload{
		Kind:       e.job.AlertKind,
		Reference:  e.job.Name,
		Err:        err,
		OccurredAt: s.now().UTC(),
	}); aerr != nil {
		s.logger.Warn("failed to send job error alert", "job", e.job.Name, "error", aerr)
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) (any, error) {
	name := e.job.Name
	if !e.running.TryLock() {
		s.observe(name, StatusSkipped, 0)
		return nil, ErrAlreadyRunning
	}
	defer e.running.Unlock()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, name, s.cfg.LockTTL)
		switch {
		case errors.Is(err, ErrLockHeld):
			s.logger.Info("job locked by another instance", "job", name)
			s.observe(name, StatusSkipped, 0)
			return nil, ErrAlreadyRunning
		case err != nil:
			s.logger.Warn("job lock unavailable, running unguarded", "job", name, "error", err)
		default:
			defer func() {
				if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
					s.logger.Warn("failed to release job lock", "job", name, "error", rerr)
				}
			}()
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	start := s.now()
	s.logger.Info("job started", "job", name)
	result, err := e.job.Run(runCtx)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.observe(name, StatusError, elapsed)
		return result, err
	}
	s.observe(name, StatusOK, elapsed)
	s.logger.Info("job finished", "job", name, "duration_ms", elapsed.Milliseconds())
	return result, nil
}

func (s *Scheduler) observe(job, status string, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObserveJob(job, status, elapsed)
	}
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
