// Package scheduler runs the periodic pipeline jobs on a seconds-resolution
// cron.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one named periodic task.
type Job func(ctx context.Context) error

type entry struct {
	id   cron.EntryID
	spec string
	run  func()
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type Scheduler struct {
	cron    *cron.Cron
	baseCtx context.Context
	logger  *zap.Logger

	mu   sync.Mutex
	jobs map[string]entry
}

// New creates a scheduler whose jobs receive baseCtx. Overlapping runs of
// the same job are skipped and panics are recovered.
func New(baseCtx context.Context, logger *zap.Logger) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		baseCtx: baseCtx,
		logger:  logger,
		jobs:    make(map[string]entry),
	}
}

// Add registers job under name. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.logger.Info("Scheduled job disabled", zap.String("job", name))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	run := func() { s.run(name, job) }
	id, err := s.cron.AddFunc(spec, run)
	if err != nil {
		return fmt.Errorf("register job %s (%q): %w", name, spec, err)
	}
	s.jobs[name] = entry{id: id, spec: spec, run: run}
	s.logger.Info("Scheduled job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	if s.baseCtx.Err() != nil {
		return
	}
	start := time.Now()
	err := job(s.baseCtx)
	fields := []zap.Field{zap.String("job", name), zap.Duration("duration", time.Since(start))}
	if err != nil {
		s.logger.Warn("Scheduled job failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("Scheduled job finished", fields...)
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	e.run()
	return nil
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		out = append(out, JobInfo{Name: name, Spec: e.spec, Next: ce.Next, Prev: ce.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.Jobs())))
}

// Stop prevents new runs and waits for running jobs or ctx, whichever
// finishes first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out waiting for running jobs")
	}
}

type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
