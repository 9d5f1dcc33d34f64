package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/alist-sync/internal/errors"
	"github.com/alexjbarnes/alist-sync/internal/models"
	"github.com/alexjbarnes/alist-sync/internal/status"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// maxBatch caps the names sent in one copy request.
	maxBatch = 3

	// stallPolls is how many consecutive polls with no outstanding task
	// end a drain even when folders are still pending.
	stallPolls = 5

	refreshKey = "refresh"
)

// ErrStopped is returned by Refresh once the scheduler has shut down.
var ErrStopped = errors.New("scheduler stopped")

// Config holds the scheduler settings.
type Config struct {
	SourceDir string
	DestDir   string

	// DailyHour and DailyMinute give the local time of the daily cycle.
	DailyHour   int
	DailyMinute int
	RunOnStart  bool

	CheckInterval  time.Duration
	ErrorBackoff   time.Duration
	SettleDelay    time.Duration
	RequestTimeout time.Duration
	MaxConcurrent  int
	StripChars     string
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 60 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 3
	}
	return c
}

// Publisher receives every status update.
type Publisher interface {
	Publish(doc status.Document)
}

// RefreshResult reports what a Refresh call did.
type RefreshResult struct {
	CycleID string `json:"cycle_id,omitempty"`
	// NewWork is true when folders were queued and a drain started.
	NewWork bool `json:"new_work"`
	// AlreadyRunning is true when a drain was in progress and nothing
	// new was started.
	AlreadyRunning bool `json:"already_running"`
	Pending        int  `json:"pending"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock used for sleeps and timestamps.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLastRefresh seeds the last refresh time, normally from the state
// persisted by a previous run.
func WithLastRefresh(t time.Time) Option {
	return func(s *Scheduler) {
		s.state.LastRefresh = t
	}
}

// Scheduler runs sync cycles: refresh both listings, work out what is
// missing, repair names and then feed the backend's copy queue in small
// batches until nothing is pending or the queue stays empty for too long.
type Scheduler struct {
	cfg       Config
	remote    Remote
	store     Store
	publisher Publisher
	clock     Clock
	logger    *slog.Logger
	sanitizer *Sanitizer

	flight singleflight.Group

	// pubMu keeps documents reaching the publisher in the order they were
	// built. Lock order is pubMu then mu, and mu is released before
	// Publish is called.
	pubMu sync.Mutex

	mu       sync.Mutex
	state    SyncState
	base     context.Context
	stopBase context.CancelFunc
	draining bool
	stopped  bool
	// deferred records a scheduled trigger that arrived mid-drain. It
	// holds at most one.
	deferred bool

	// wg tracks in-flight refreshes and the drain goroutine.
	wg      sync.WaitGroup
	drained chan struct{}
}

// New creates a scheduler. Nothing runs until Run or Refresh is called.
func New(cfg Config, remote Remote, store Store, publisher Publisher, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg.withDefaults(),
		remote:    remote,
		store:     store,
		publisher: publisher,
		clock:     realClock{},
		logger:    logger,
		drained:   make(chan struct{}, 1),
	}
	s.base, s.stopBase = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(s)
	}

	s.state.Phase = PhaseIdle
	s.state.StartTime = s.clock.Now()

	s.sanitizer = NewSanitizer(remote, store, s.clock, s.cfg.StripChars, s.cfg.SettleDelay, s.cfg.RequestTimeout, logger)
	s.sanitizer.OnRename(func(name string, renamed, total int) {
		s.publish("renamed "+name, renamed*100/total, total, 0)
	})

	return s
}

// Snapshot returns a copy of the current sync state.
func (s *Scheduler) Snapshot() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.clone()
}

// Processing reports whether a drain is in progress.
func (s *Scheduler) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.draining
}

// Refresh starts a sync cycle. Callers arriving while a refresh is in
// flight share its result. While a drain is running nothing new starts
// and the result has AlreadyRunning set. ctx only bounds how long the
// caller waits; the cycle itself lives until Run shuts the scheduler
// down, even when it was started before Run.
func (s *Scheduler) Refresh(ctx context.Context) (RefreshResult, error) {
	if s.Processing() {
		return RefreshResult{AlreadyRunning: true}, nil
	}

	ch := s.flight.DoChan(refreshKey, func() (interface{}, error) {
		return s.refresh(s.baseContext())
	})

	select {
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return RefreshResult{}, res.Err
		}
		return res.Val.(RefreshResult), nil
	}
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.base
}

func (s *Scheduler) refresh(ctx context.Context) (RefreshResult, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return RefreshResult{}, ErrStopped
	}
	if s.draining {
		s.mu.Unlock()
		return RefreshResult{AlreadyRunning: true}, nil
	}
	s.wg.Add(1)
	defer s.wg.Done()
	cycle := uuid.NewString()
	s.state.CycleID = cycle
	s.state.Phase = PhaseRefreshing
	s.state.Pending = nil
	s.state.ActiveTasks = 0
	s.state.CompletedTasks = 0
	s.mu.Unlock()

	logger := s.logger.With(slog.String("cycle", cycle))
	logger.Info("refreshing listings",
		slog.String("source", s.cfg.SourceDir),
		slog.String("destination", s.cfg.DestDir),
	)
	s.publish("refreshing listings", 0, 0, 0)

	pending, err := s.collect(ctx, logger)
	if err != nil {
		s.countError(err)
		logger.Error("sync cycle aborted", slog.String("error", err.Error()))
		s.setPhase(PhaseIdle)
		s.publish("listing failed", 0, 0, 0)
		return RefreshResult{CycleID: cycle}, err
	}

	refreshed := s.clock.Now()
	if err := s.store.SetLastRefresh(refreshed); err != nil {
		logger.Warn("failed to save last refresh time", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.state.LastRefresh = refreshed
	s.state.Pending = pending
	if len(pending) == 0 || s.stopped {
		s.state.Phase = PhaseIdle
		s.mu.Unlock()
		logger.Info("no new folders to copy")
		s.publish("no new folders", 100, 0, 0)
		return RefreshResult{CycleID: cycle}, nil
	}
	s.state.Phase = PhaseProcessing
	s.draining = true
	s.wg.Add(1)
	s.mu.Unlock()

	logger.Info("folders queued for copy", slog.Int("count", len(pending)))
	s.publish("waiting to copy", 0, len(pending), 0)

	go s.drain(ctx, logger, len(pending))

	return RefreshResult{CycleID: cycle, NewWork: true, Pending: len(pending)}, nil
}

// collect fetches both listings, persists them and returns the repaired
// pending names.
func (s *Scheduler) collect(ctx context.Context, logger *slog.Logger) ([]string, error) {
	source, err := s.fetch(ctx, s.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("fetching source listing: %w", err)
	}

	destLive, err := s.fetch(ctx, s.cfg.DestDir)
	if err != nil {
		return nil, fmt.Errorf("fetching destination listing: %w", err)
	}

	// Read the previous destination snapshot before it is overwritten.
	destCache, err := s.store.Listing(models.SideDestination)
	if err != nil {
		logger.Warn("cached destination listing unreadable", slog.String("error", err.Error()))
		destCache = nil
	}

	s.save(logger, models.SideSource, source)
	s.save(logger, models.SideDestination, destLive)

	pending, err := ComputePending(source, destCache, destLive)
	if err != nil {
		return nil, err
	}

	logger.Info("computed pending folders",
		slog.Int("source", len(source.DirNames())),
		slog.Int("destination", len(destLive.DirNames())),
		slog.Int("pending", len(pending)),
	)

	if len(pending) == 0 {
		return pending, nil
	}

	pending, stats := s.sanitizer.Sanitize(ctx, pending, s.cfg.SourceDir)

	s.mu.Lock()
	s.state.Errors.Rename += stats.Errors
	if stats.RefetchErr != nil {
		s.state.Errors.Listing++
	}
	s.mu.Unlock()

	if stats.Renamed == 0 {
		return pending, nil
	}

	// A repaired name can collide with a folder the destination already
	// has. The rename at the source stands but nothing is copied.
	pending, skipped := ExcludeExisting(pending, destCache, destLive)
	if len(skipped) > 0 {
		logger.Info("repaired folders already at destination",
			slog.String("names", strings.Join(skipped, ", ")),
		)
	}

	return pending, nil
}

func (s *Scheduler) fetch(ctx context.Context, dir string) (*models.Listing, error) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	l, err := s.remote.ListDirectory(rctx, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrListingFetch, err)
	}

	return l, nil
}

func (s *Scheduler) save(logger *slog.Logger, side models.Side, l *models.Listing) {
	change, err := s.store.SaveListing(side, l)
	if err != nil {
		logger.Warn("failed to save listing",
			slog.String("side", string(side)),
			slog.String("error", err.Error()),
		)
		return
	}

	if change.Changed() {
		logger.Debug("listing changed",
			slog.String("side", string(side)),
			slog.Int("added", change.Added),
			slog.Int("removed", change.Removed),
		)
	}
}

// drain feeds pending folders to the backend until the list is empty,
// the queue stalls or ctx ends.
func (s *Scheduler) drain(ctx context.Context, logger *slog.Logger, total int) {
	defer s.wg.Done()

	outcome := s.loop(ctx, logger, total)

	switch outcome {
	case PhaseDrained:
		logger.Info("all pending folders submitted")
		s.setPhase(PhaseDrained)
		s.publish("all folders submitted", 100, total, 0)
	case PhaseStalled:
		remaining := len(s.Snapshot().Pending)
		logger.Warn("no outstanding copy tasks for consecutive polls, ending cycle",
			slog.Int("polls", stallPolls),
			slog.Int("pending", remaining),
		)
		s.setPhase(PhaseStalled)
		s.publish("stalled", (total-remaining)*100/total, total, 0)
	default:
		logger.Info("drain interrupted")
	}

	s.mu.Lock()
	s.draining = false
	if outcome != PhaseStopped {
		s.state.LastOutcome = outcome
		s.state.Phase = PhaseIdle
	}
	s.mu.Unlock()

	select {
	case s.drained <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, logger *slog.Logger, total int) Phase {
	emptyPolls := 0

	for {
		if ctx.Err() != nil {
			return PhaseStopped
		}
		if len(s.head(1)) == 0 {
			return PhaseDrained
		}

		wait, stalled := s.tick(ctx, logger, total, &emptyPolls)
		if stalled {
			return PhaseStalled
		}

		if err := s.clock.Sleep(ctx, wait); err != nil {
			return PhaseStopped
		}
	}
}

// tick runs one poll and at most one copy submission. It returns how long
// to sleep before the next tick.
func (s *Scheduler) tick(ctx context.Context, logger *slog.Logger, total int, emptyPolls *int) (time.Duration, bool) {
	tasks, err := s.poll(ctx)
	if err != nil {
		s.countError(err)
		logger.Error("polling copy tasks failed", slog.String("error", err.Error()))
		return s.cfg.ErrorBackoff, false
	}

	active := 0
	for _, t := range tasks {
		attrs := []any{
			slog.String("id", t.ID),
			slog.String("name", t.Name),
			slog.String("status", string(t.Status)),
			slog.Float64("progress", t.Progress),
		}
		if t.Status == models.TaskFailed {
			logger.Error("copy task failed", append(attrs, slog.String("error", t.Error))...)
		} else {
			logger.Info("copy task", attrs...)
		}
		if !t.Done() {
			active++
		}
	}

	s.mu.Lock()
	s.state.ActiveTasks = active
	s.mu.Unlock()
	s.publishState()

	if active == 0 {
		*emptyPolls++
	} else {
		*emptyPolls = 0
	}
	if *emptyPolls >= stallPolls {
		return 0, true
	}

	slots := min(maxBatch, s.cfg.MaxConcurrent-active)
	if slots <= 0 {
		logger.Debug("copy queue full", slog.Int("active", active))
		return s.cfg.CheckInterval, false
	}

	batch := s.head(slots)

	ids, err := s.submit(ctx, batch)
	if err != nil {
		s.countError(err)
		logger.Error("copy request failed",
			slog.String("names", strings.Join(batch, ", ")),
			slog.String("error", err.Error()),
		)
		return s.cfg.ErrorBackoff, false
	}

	s.mu.Lock()
	s.state.Pending = append([]string(nil), s.state.Pending[len(batch):]...)
	remaining := len(s.state.Pending)
	s.mu.Unlock()

	logger.Info("copy submitted",
		slog.String("names", strings.Join(batch, ", ")),
		slog.String("task_ids", strings.Join(ids, ", ")),
		slog.Int("remaining", remaining),
	)
	s.publish(strings.Join(batch, ", "), (total-remaining)*100/total, total, len(batch))

	if err := s.refreshDestination(ctx, logger); err != nil {
		s.countError(err)
		logger.Warn("destination listing refresh failed", slog.String("error", err.Error()))
		return s.cfg.ErrorBackoff, false
	}

	return s.cfg.CheckInterval, false
}

// head returns up to n names from the front of the pending list.
func (s *Scheduler) head(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = min(n, len(s.state.Pending))

	return append([]string(nil), s.state.Pending[:n]...)
}

func (s *Scheduler) poll(ctx context.Context) ([]models.CopyTask, error) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	tasks, err := s.remote.OutstandingTasks(rctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrPoll, err)
	}

	return tasks, nil
}

func (s *Scheduler) submit(ctx context.Context, batch []string) ([]string, error) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	ids, err := s.remote.Copy(rctx, s.cfg.SourceDir, batch, s.cfg.DestDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSubmission, err)
	}

	return ids, nil
}

// refreshDestination re-reads the destination after a submission so the
// next cycle's cache already includes folders that were just queued.
func (s *Scheduler) refreshDestination(ctx context.Context, logger *slog.Logger) error {
	l, err := s.fetch(ctx, s.cfg.DestDir)
	if err != nil {
		return err
	}

	s.save(logger, models.SideDestination, l)

	return nil
}

func (s *Scheduler) countError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, apperrors.ErrListingFetch):
		s.state.Errors.Listing++
	case errors.Is(err, apperrors.ErrRename):
		s.state.Errors.Rename++
	case errors.Is(err, apperrors.ErrSubmission):
		s.state.Errors.Submission++
	case errors.Is(err, apperrors.ErrPoll):
		s.state.Errors.Poll++
	}
}

func (s *Scheduler) setPhase(p Phase) {
	s.mu.Lock()
	s.state.Phase = p
	s.mu.Unlock()
}

// publish records a progress update and hands the resulting document to
// the publisher. completed is the number of folders submitted since the
// previous update.
func (s *Scheduler) publish(currentTask string, progress, total, completed int) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	now := s.clock.Now()

	s.state.CurrentTask = currentTask
	s.state.Progress = progress
	s.state.TotalTasks = total
	if completed > 0 {
		s.state.CompletedTasks += completed
		s.state.TotalCopied += completed
		s.state.LastSuccess = now
	}
	doc := s.state.Document(now)
	s.mu.Unlock()

	s.publisher.Publish(doc)
}

// publishState republishes the current state with its progress fields
// unchanged.
func (s *Scheduler) publishState() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	doc := s.state.Document(s.clock.Now())
	s.mu.Unlock()

	s.publisher.Publish(doc)
}

// Run triggers a cycle at startup if configured and then once a day at
// the configured time, until ctx is cancelled. A daily trigger that
// arrives while a drain is running is deferred until the drain ends.
// Run waits for a running drain to stop and publishes a final status
// before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.publish("service started", 0, 0, 0)

	if s.cfg.RunOnStart {
		s.trigger(ctx, "startup")
	}

	for {
		next := nextRun(s.clock.Now(), s.cfg.DailyHour, s.cfg.DailyMinute)
		s.logger.Info("next scheduled cycle", slog.Time("at", next))

		timer := s.clock.NewTimer(next.Sub(s.clock.Now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.shutdown()
			return nil
		case <-timer.C():
			s.trigger(ctx, "daily")
		case <-s.drained:
			timer.Stop()
			if s.takeDeferred() {
				s.trigger(ctx, "deferred")
			}
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.draining {
		s.deferred = true
		s.mu.Unlock()
		s.logger.Info("cycle still processing, deferring trigger", slog.String("reason", reason))
		return
	}
	s.mu.Unlock()

	res, err := s.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sync cycle failed",
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if res.AlreadyRunning {
		s.mu.Lock()
		s.deferred = true
		s.mu.Unlock()
		return
	}

	s.logger.Info("sync cycle started",
		slog.String("reason", reason),
		slog.String("cycle", res.CycleID),
		slog.Bool("new_work", res.NewWork),
		slog.Int("pending", res.Pending),
	)
}

func (s *Scheduler) takeDeferred() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.deferred
	s.deferred = false

	return d
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	// Cancels every drain, including one a Refresh started before Run.
	s.stopBase()
	s.wg.Wait()

	s.setPhase(PhaseStopped)
	s.publish("service stopped", 0, 0, 0)
	s.logger.Info("scheduler stopped")
}
