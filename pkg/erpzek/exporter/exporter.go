// Package exporter schedules report exports: rendering a PDF and delivering
// it to the user happens on a bounded worker pool, detached from the reply
// that announced it.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/channels"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/render"
)

// cleanupGrace is how long a delivered artifact stays on disk before
// removal, so the platform upload has fully finished.
var cleanupGrace = 5 * time.Second

// ErrQueueFull is reported when the export queue cannot accept more work.
var ErrQueueFull = errors.New("export queue full")

// Job is one pending export.
type Job struct {
	ID       string
	Channel  string
	ChatID   string
	Filename string
	Caption  string
	Report   render.Report
}

// Renderer produces the artifact file for a report.
type Renderer interface {
	Render(ctx context.Context, report render.Report) (string, error)
}

// Deliverer carries the artifact (or a failure notice) back to the user.
type Deliverer interface {
	SendDocument(ctx context.Context, to string, doc channels.Document) error
	SendText(ctx context.Context, to, text string) error
}

// Config holds exporter pool settings.
type Config struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Exporter runs export jobs on a fixed worker pool. Scheduling never blocks
// the caller; failures are reported to the user asynchronously.
type Exporter struct {
	renderer Renderer
	deliver  Deliverer
	logger   *slog.Logger

	jobs    chan Job
	wg      sync.WaitGroup
	cleanup sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts the worker pool.
func New(cfg Config, renderer Renderer, deliver Deliverer, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}

	e := &Exporter{
		renderer: renderer,
		deliver:  deliver,
		logger:   logger.With("component", "exporter"),
		jobs:     make(chan Job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Schedule enqueues a job and returns immediately. The returned job ID
// identifies the export in logs. A full queue is the only scheduling
// failure; the job is not retried.
func (e *Exporter) Schedule(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()[:8]
	}
	if job.Filename == "" {
		job.Filename = fmt.Sprintf("rapor-%s.pdf", job.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrQueueFull
	}
	select {
	case e.jobs <- job:
		e.logger.Debug("export scheduled", "job", job.ID, "rows", len(job.Report.Rows))
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Drain stops accepting jobs and waits for in-flight work (including
// artifact cleanup) to finish, or for the context to expire.
func (e *Exporter) Drain(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.jobs)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.cleanup.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Exporter) worker() {
	defer e.wg.Done()
	for job := range e.jobs {
		e.run(job)
	}
}

// run executes one export attempt. There are no retries: a failed export
// turns into a notice to the user and nothing else.
func (e *Exporter) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := time.Now()
	path, err := e.renderer.Render(ctx, job.Report)
	if err != nil {
		e.logger.Error("export render failed", "job", job.ID, "error", err)
		e.notifyFailure(ctx, job)
		return
	}

	err = e.deliver.SendDocument(ctx, job.ChatID, channels.Document{
		Path:     path,
		Filename: job.Filename,
		Caption:  job.Caption,
	})
	if err != nil {
		e.logger.Error("export delivery failed", "job", job.ID, "error", err)
		e.notifyFailure(ctx, job)
		e.removeLater(path)
		return
	}

	e.logger.Info("export delivered",
		"job", job.ID,
		"rows", len(job.Report.Rows),
		"duration", time.Since(start))
	e.removeLater(path)
}

func (e *Exporter) notifyFailure(ctx context.Context, job Job) {
	msg := "⚠️ Rapor oluşturulamadı. Lütfen tekrar deneyin."
	if err := e.deliver.SendText(ctx, job.ChatID, msg); err != nil {
		e.logger.Error("failure notice undeliverable", "job", job.ID, "error", err)
	}
}

// removeLater deletes the artifact after a grace period.
func (e *Exporter) removeLater(path string) {
	e.cleanup.Add(1)
	go func() {
		defer e.cleanup.Done()
		time.Sleep(cleanupGrace)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("artifact cleanup failed", "path", path, "error", err)
		}
	}()
}
