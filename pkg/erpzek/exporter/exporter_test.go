package exporter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/channels"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/render"
)

type fakeRenderer struct {
	mu    sync.Mutex
	dir   string
	calls int
	fail  bool
}

func (f *fakeRenderer) Render(ctx context.Context, report render.Report) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", errors.New("render broke")
	}
	path := filepath.Join(f.dir, "out.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeDeliverer struct {
	mu    sync.Mutex
	docs  []channels.Document
	texts []string
}

func (f *fakeDeliverer) SendDocument(ctx context.Context, to string, doc channels.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeDeliverer) SendText(ctx context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func newTestExporter(t *testing.T, rnd *fakeRenderer) (*Exporter, *fakeDeliverer) {
	t.Helper()
	rnd.dir = t.TempDir()
	del := &fakeDeliverer{}
	e := New(Config{Workers: 1, QueueSize: 4}, rnd, del, nil)
	return e, del
}

func drain(t *testing.T, e *Exporter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestScheduleDeliversOnce(t *testing.T) {
	old := cleanupGrace
	cleanupGrace = 10 * time.Millisecond
	defer func() { cleanupGrace = old }()

	rnd := &fakeRenderer{}
	e, del := newTestExporter(t, rnd)

	id, err := e.Schedule(Job{ChatID: "42", Report: render.Report{Title: "Rapor"}})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if id == "" {
		t.Error("empty job id")
	}
	drain(t, e)

	if rnd.calls != 1 {
		t.Errorf("render calls = %d, want 1", rnd.calls)
	}
	if len(del.docs) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(del.docs))
	}
	if len(del.texts) != 0 {
		t.Errorf("unexpected failure notices: %v", del.texts)
	}
}

func TestRenderFailureNotifiesUser(t *testing.T) {
	rnd := &fakeRenderer{fail: true}
	e, del := newTestExporter(t, rnd)

	if _, err := e.Schedule(Job{ChatID: "42", Report: render.Report{Title: "Rapor"}}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	drain(t, e)

	if len(del.docs) != 0 {
		t.Errorf("failed render still delivered a document")
	}
	if len(del.texts) != 1 {
		t.Fatalf("failure notices = %d, want 1", len(del.texts))
	}
}

func TestArtifactCleanedUpAfterDelivery(t *testing.T) {
	old := cleanupGrace
	cleanupGrace = 10 * time.Millisecond
	defer func() { cleanupGrace = old }()

	rnd := &fakeRenderer{}
	e, del := newTestExporter(t, rnd)

	if _, err := e.Schedule(Job{ChatID: "42", Report: render.Report{Title: "Rapor"}}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	drain(t, e)

	if len(del.docs) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(del.docs))
	}
	if _, err := os.Stat(del.docs[0].Path); !os.IsNotExist(err) {
		t.Errorf("artifact still on disk after drain: %v", err)
	}
}

func TestScheduleAfterDrainRejected(t *testing.T) {
	rnd := &fakeRenderer{}
	e, _ := newTestExporter(t, rnd)
	drain(t, e)

	if _, err := e.Schedule(Job{ChatID: "42"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull after drain, got %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	rnd := &fakeRenderer{}
	rnd.dir = t.TempDir()
	del := &fakeDeliverer{}
	// Zero workers would hang Drain; use a pool whose single worker is
	// blocked by a slow renderer so the queue genuinely fills.
	block := make(chan struct{})
	e := New(Config{Workers: 1, QueueSize: 1}, renderFunc(func(ctx context.Context, r render.Report) (string, error) {
		<-block
		return "", errors.New("cancelled")
	}), del, nil)

	// First job occupies the worker, second fills the queue.
	if _, err := e.Schedule(Job{ChatID: "1"}); err != nil {
		t.Fatal(err)
	}
	// Give the worker a moment to pick up the first job.
	time.Sleep(50 * time.Millisecond)
	if _, err := e.Schedule(Job{ChatID: "2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Schedule(Job{ChatID: "3"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	close(block)
	drain(t, e)
}

type renderFunc func(ctx context.Context, report render.Report) (string, error)

func (f renderFunc) Render(ctx context.Context, report render.Report) (string, error) {
	return f(ctx, report)
}
