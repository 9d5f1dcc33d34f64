package syncer

import (
	"time"

	"github.com/alexjbarnes/alist-sync/internal/status"
)

// Phase is the scheduler lifecycle stage.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRefreshing Phase = "refreshing"
	PhaseProcessing Phase = "processing"
	PhaseDrained    Phase = "drained"
	PhaseStalled    Phase = "stalled"
	PhaseStopped    Phase = "stopped"
)

// SyncState is the scheduler's view of the current cycle and its lifetime
// counters. The scheduler owns the only mutable instance; everything else
// works on copies returned by Scheduler.Snapshot.
type SyncState struct {
	Phase   Phase
	CycleID string

	// LastOutcome is how the most recent drain ended: drained or stalled.
	LastOutcome Phase

	Pending     []string
	ActiveTasks int
	TotalCopied int
	Errors      status.ErrorCounters

	CurrentTask    string
	Progress       int
	TotalTasks     int
	CompletedTasks int

	StartTime   time.Time
	LastSuccess time.Time
	LastRefresh time.Time
}

// TotalErrors sums the per-category counters.
func (s SyncState) TotalErrors() int {
	return s.Errors.Total()
}

func (s *SyncState) clone() SyncState {
	c := *s
	c.Pending = append([]string(nil), s.Pending...)
	return c
}

// Document renders the state as a status document at time now.
func (s SyncState) Document(now time.Time) status.Document {
	doc := status.Document{
		CurrentTask:    s.CurrentTask,
		Progress:       s.Progress,
		TotalTasks:     s.TotalTasks,
		CompletedTasks: s.CompletedTasks,
		UpdateTime:     now,
		State:          string(s.Phase),
		CycleID:        s.CycleID,
		Details: status.Details{
			PendingFiles: len(s.Pending),
			ActiveTasks:  s.ActiveTasks,
			TotalCopied:  s.TotalCopied,
			TotalErrors:  s.TotalErrors(),
			Errors:       s.Errors,
		},
		Statistics: status.Statistics{
			StartTime:   s.StartTime,
			RunningTime: status.FormatRunningTime(now.Sub(s.StartTime)),
		},
	}

	if !s.LastSuccess.IsZero() {
		last := s.LastSuccess
		doc.Details.LastSuccess = &last
	}
	if !s.LastRefresh.IsZero() {
		refreshed := s.LastRefresh
		doc.Details.LastRefresh = &refreshed
	}

	return doc
}
