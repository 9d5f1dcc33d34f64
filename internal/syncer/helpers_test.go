package syncer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/models"
	"github.com/alexjbarnes/alist-sync/internal/state"
	"github.com/alexjbarnes/alist-sync/internal/status"
	"github.com/stretchr/testify/require"
)

const (
	srcDir = "/src"
	dstDir = "/dst"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock never blocks: Sleep advances Now and records the duration.
// Timers fire when Now reaches their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	ch    chan time.Time
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, other := range t.clock.timers {
		if other == t {
			t.clock.timers = append(t.clock.timers[:i], t.clock.timers[i+1:]...)
			return true
		}
	}
	return false
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.advanceLocked(d)
	return nil
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves Now forward by d and fires every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked(d)
}

func (c *fakeClock) advanceLocked(d time.Duration) {
	c.now = c.now.Add(d)
	kept := c.timers[:0]
	for _, t := range c.timers {
		if t.at.After(c.now) {
			kept = append(kept, t)
			continue
		}
		t.ch <- c.now
	}
	c.timers = kept
}

// Timers returns how many timers are armed.
func (c *fakeClock) Timers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// recorder keeps every published document.
type recorder struct {
	mu   sync.Mutex
	docs []status.Document
}

func (r *recorder) Publish(doc status.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
}

func (r *recorder) Last() status.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.docs) == 0 {
		return status.Document{}
	}
	return r.docs[len(r.docs)-1]
}

func (r *recorder) Tasks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.docs {
		out = append(out, d.CurrentTask)
	}
	return out
}

func testStore(t *testing.T) *state.State {
	t.Helper()
	s, err := state.LoadAt(state.DBPath(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dirs(path string, names ...string) *models.Listing {
	l := &models.Listing{Path: path, Entries: []models.Entry{}}
	for _, n := range names {
		l.Entries = append(l.Entries, models.Entry{Name: n, IsDir: true})
	}
	return l
}

func testConfig() Config {
	return Config{
		SourceDir:      srcDir,
		DestDir:        dstDir,
		CheckInterval:  60 * time.Second,
		ErrorBackoff:   5 * time.Second,
		SettleDelay:    10 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxConcurrent:  3,
	}
}

type harness struct {
	sched *Scheduler
	clock *fakeClock
	pub   *recorder
	store *state.State
}

func newHarness(t *testing.T, remote Remote, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock: newFakeClock(),
		pub:   &recorder{},
		store: testStore(t),
	}
	h.sched = New(cfg, remote, h.store, h.pub, discardLogger(), WithClock(h.clock))
	return h
}

// wait blocks until the refresh and drain goroutines have finished.
func (h *harness) wait() {
	h.sched.wg.Wait()
}
