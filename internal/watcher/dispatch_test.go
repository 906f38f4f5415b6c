package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	upserted []string
	removed  []string
	flushes  int
	failOn   string
}

func (h *recordingHandler) Upsert(_ context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if path == h.failOn {
		return errors.New("unreadable pdf")
	}
	h.upserted = append(h.upserted, path)
	return nil
}

func (h *recordingHandler) Remove(_ context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, path)
	return nil
}

func (h *recordingHandler) Flush(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushes++
	return nil
}

// chanWatcher is a Watcher fed by the test.
type chanWatcher struct {
	events chan []FileEvent
	errors chan error
}

func newChanWatcher() *chanWatcher {
	return &chanWatcher{events: make(chan []FileEvent, 4), errors: make(chan error, 4)}
}

func (w *chanWatcher) Start(context.Context, string) error { return nil }
func (w *chanWatcher) Stop() error                         { return nil }
func (w *chanWatcher) Events() <-chan []FileEvent          { return w.events }
func (w *chanWatcher) Errors() <-chan error                { return w.errors }

func TestApply(t *testing.T) {
	// Given: a batch with a create, a modify, a delete and a bad file
	h := &recordingHandler{failOn: "/docs/bad.pdf"}
	batch := []FileEvent{
		{Path: "/docs/a.pdf", Operation: OpCreate},
		{Path: "/docs/b.pdf", Operation: OpModify},
		{Path: "/docs/bad.pdf", Operation: OpCreate},
		{Path: "/docs/c.pdf", Operation: OpDelete},
	}

	// When: it is applied
	res := Apply(context.Background(), batch, h, nil)

	// Then: the failure is counted and the rest still go through
	assert.Equal(t, BatchResult{Upserted: 2, Removed: 1, Failed: 1}, res)
	assert.Equal(t, []string{"/docs/a.pdf", "/docs/b.pdf"}, h.upserted)
	assert.Equal(t, []string{"/docs/c.pdf"}, h.removed)
	assert.Equal(t, 1, h.flushes)
}

func TestApply_NothingAppliedSkipsFlush(t *testing.T) {
	h := &recordingHandler{failOn: "/docs/bad.pdf"}

	res := Apply(context.Background(), []FileEvent{{Path: "/docs/bad.pdf", Operation: OpModify}}, h, nil)

	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, h.flushes)
}

func TestApply_CancelledContext(t *testing.T) {
	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Apply(ctx, []FileEvent{{Path: "/docs/a.pdf", Operation: OpCreate}}, h, nil)

	assert.Equal(t, BatchResult{}, res)
	assert.Empty(t, h.upserted)
}

func TestServe(t *testing.T) {
	// Given: a watcher with one batch and one error queued, then closed
	w := newChanWatcher()
	w.errors <- errors.New("inotify overflow")
	w.events <- []FileEvent{{Path: "/docs/a.pdf", Operation: OpCreate}}
	close(w.events)
	h := &recordingHandler{}
	var seen []BatchResult

	// When: Serve runs
	err := Serve(context.Background(), w, h, nil, func(_ []FileEvent, r BatchResult) {
		seen = append(seen, r)
	})

	// Then: the batch is applied and Serve returns once events close
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/a.pdf"}, h.upserted)
	assert.Equal(t, []BatchResult{{Upserted: 1}}, seen)
}

func TestServe_StopsOnContext(t *testing.T) {
	w := newChanWatcher()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, w, &recordingHandler{}, nil, nil) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
