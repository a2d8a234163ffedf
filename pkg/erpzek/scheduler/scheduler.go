// Package scheduler runs configured report jobs on cron schedules: each job
// executes a catalog operation and delivers the result to a chat, either as
// text or as a PDF export depending on size.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/gateway"
)

// jobTimeout bounds a single report run.
const jobTimeout = 2 * time.Minute

// Job is one scheduled report.
type Job struct {
	// Schedule is a cron expression or shorthand (@daily, @every 1h).
	Schedule string

	// Operation is the catalog operation to run.
	Operation string

	// Params are the operation parameters.
	Params map[string]any

	// ChatID is the conversation the report goes to.
	ChatID string

	// Title overrides the report title; defaults to the catalog title.
	Title string
}

// Delivery receives each job's result. The assistant wires this to the
// materializer and export path so scheduled reports look like query replies.
type Delivery func(ctx context.Context, job Job, result gateway.Result)

// Scheduler runs report jobs via robfig/cron.
type Scheduler struct {
	cron    *cron.Cron
	exec    gateway.Executor
	deliver Delivery
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New creates the scheduler. Jobs are added with Add before Start.
func New(exec gateway.Executor, deliver Delivery, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		exec:    exec,
		deliver: deliver,
		logger:  logger.With("component", "scheduler"),
		running: make(map[string]bool),
	}
}

// Add registers a job. The returned error reports an invalid cron
// expression or an unknown operation.
func (s *Scheduler) Add(job Job) error {
	if _, ok := gateway.Catalog()[job.Operation]; !ok {
		return fmt.Errorf("unknown operation %q", job.Operation)
	}
	key := job.Schedule + "/" + job.Operation + "/" + job.ChatID

	_, err := s.cron.AddFunc(job.Schedule, func() {
		// Skip a firing while the previous run is still active.
		s.mu.Lock()
		if s.running[key] {
			s.mu.Unlock()
			s.logger.Warn("report still running, skipping", "operation", job.Operation)
			return
		}
		s.running[key] = true
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.running, key)
			s.mu.Unlock()
		}()

		s.run(job)
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", job.Schedule, err)
	}
	s.logger.Info("report scheduled",
		"schedule", job.Schedule,
		"operation", job.Operation,
		"chat", job.ChatID)
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	result := s.exec.Execute(ctx, job.Operation, job.Params)
	s.logger.Info("scheduled report executed",
		"operation", job.Operation,
		"success", result.Success,
		"rows", result.RecordCount,
		"duration", time.Since(start))

	s.deliver(ctx, job, result)
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
