package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/alist-sync/internal/errors"
	"github.com/alexjbarnes/alist-sync/internal/models"
)

// DefaultStripChars is the set of characters removed from folder names
// before copying. The backend rejects copy requests naming a folder with
// an apostrophe.
const DefaultStripChars = "'"

// SanitizeStats summarises one Sanitize call.
type SanitizeStats struct {
	Renamed int
	// Errors counts names that could not be repaired.
	Errors int
	// RefetchErr is set when the source listing could not be re-fetched
	// or saved after renaming.
	RefetchErr error
}

// RenameHook is called after each successful rename with the new name,
// how many renames have succeeded so far and how many names needed one.
type RenameHook func(name string, renamed, total int)

// Sanitizer repairs pending folder names containing characters the
// backend cannot copy by renaming them at the source.
type Sanitizer struct {
	remote  Remote
	store   Store
	clock   Clock
	logger  *slog.Logger
	strip   string
	settle  time.Duration
	timeout time.Duration

	onRename RenameHook
}

// NewSanitizer creates a sanitizer. An empty strip set falls back to
// DefaultStripChars.
func NewSanitizer(remote Remote, store Store, clock Clock, strip string, settle, timeout time.Duration, logger *slog.Logger) *Sanitizer {
	if strip == "" {
		strip = DefaultStripChars
	}

	return &Sanitizer{
		remote:  remote,
		store:   store,
		clock:   clock,
		logger:  logger,
		strip:   strip,
		settle:  settle,
		timeout: timeout,
	}
}

// OnRename installs the progress hook.
func (s *Sanitizer) OnRename(fn RenameHook) {
	s.onRename = fn
}

// Repair returns name with the offending characters removed and whether
// anything had to change.
func (s *Sanitizer) Repair(name string) (string, bool) {
	if !strings.ContainsAny(name, s.strip) {
		return name, false
	}

	repaired := strings.Map(func(r rune) rune {
		if strings.ContainsRune(s.strip, r) {
			return -1
		}
		return r
	}, name)

	return strings.TrimSpace(repaired), true
}

// Sanitize renames every pending name that needs repair and returns the
// pending list with repaired names substituted in place. Names that fail
// to rename are kept as they were. When at least one rename succeeded the
// source listing is fetched again and saved so the next diff sees the
// new names.
func (s *Sanitizer) Sanitize(ctx context.Context, pending []string, sourceDir string) ([]string, SanitizeStats) {
	var stats SanitizeStats

	out := make([]string, len(pending))
	copy(out, pending)

	total := 0
	for _, name := range pending {
		if _, changed := s.Repair(name); changed {
			total++
		}
	}
	if total == 0 {
		return out, stats
	}

	s.logger.Info("repairing folder names", slog.Int("count", total))

	for i, name := range pending {
		repaired, changed := s.Repair(name)
		if !changed {
			continue
		}

		if err := s.rename(ctx, sourceDir, name, repaired); err != nil {
			stats.Errors++
			s.logger.Error("folder rename failed",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		out[i] = repaired
		stats.Renamed++
		s.logger.Info("folder renamed",
			slog.String("from", name),
			slog.String("to", repaired),
		)

		if s.onRename != nil {
			s.onRename(repaired, stats.Renamed, total)
		}

		// Let the backend settle before touching the directory again.
		if err := s.clock.Sleep(ctx, s.settle); err != nil {
			break
		}
	}

	if stats.Renamed > 0 && ctx.Err() == nil {
		if err := s.refetch(ctx, sourceDir); err != nil {
			stats.RefetchErr = err
			s.logger.Warn("failed to refresh source listing after rename",
				slog.String("error", err.Error()),
			)
		}
	}

	return out, stats
}

func (s *Sanitizer) rename(ctx context.Context, dir, oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("%w: %q has no characters left after repair", apperrors.ErrRename, oldName)
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.remote.Rename(rctx, dir, oldName, newName); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrRename, err)
	}

	return nil
}

func (s *Sanitizer) refetch(ctx context.Context, dir string) error {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	l, err := s.remote.ListDirectory(rctx, dir)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrListingFetch, err)
	}

	if _, err := s.store.SaveListing(models.SideSource, l); err != nil {
		return fmt.Errorf("saving source listing: %w", err)
	}

	return nil
}
