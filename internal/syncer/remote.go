// Package syncer decides which source folders are missing on the
// destination, repairs names the backend cannot copy and drives the copy
// queue until it drains or stalls.
package syncer

//go:generate mockgen -source=remote.go -destination=mock_remote_test.go -package=syncer

import (
	"context"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/models"
)

// Remote is the subset of the AList API the scheduler drives. It is
// satisfied by *alist.Session.
type Remote interface {
	ListDirectory(ctx context.Context, dir string) (*models.Listing, error)
	Copy(ctx context.Context, srcDir string, names []string, dstDir string) ([]string, error)
	Rename(ctx context.Context, dir, oldName, newName string) error
	OutstandingTasks(ctx context.Context) ([]models.CopyTask, error)
}

// Store persists listing snapshots between cycles. It is satisfied by
// *state.State.
type Store interface {
	Listing(side models.Side) (*models.Listing, error)
	SaveListing(side models.Side, l *models.Listing) (models.ListingChange, error)
	SetLastRefresh(t time.Time) error
}
