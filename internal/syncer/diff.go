package syncer

import (
	"fmt"
	"sort"

	apperrors "github.com/alexjbarnes/alist-sync/internal/errors"
	"github.com/alexjbarnes/alist-sync/internal/models"
	"golang.org/x/text/unicode/norm"
)

// ComputePending returns the sorted names of source directories that are
// in neither destination listing. destCache is the snapshot persisted by
// the previous cycle and may be nil; source and destLive must be present.
//
// Names are compared in NFC so a folder whose name was normalised
// differently by one of the backends is not copied twice. The returned
// names keep the source spelling, since that is what the copy request
// has to reference.
func ComputePending(source, destCache, destLive *models.Listing) ([]string, error) {
	if source == nil || destLive == nil {
		return []string{}, fmt.Errorf("computing pending folders: %w", apperrors.ErrListingFetch)
	}

	existing := destinationKeys(destCache, destLive)

	pending := []string{}
	seen := make(map[string]struct{})

	for _, name := range source.DirNames() {
		key := norm.NFC.String(name)
		if _, ok := existing[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, name)
	}

	sort.Strings(pending)

	return pending, nil
}

// ExcludeExisting drops names whose NFC form is in either destination
// listing, and later duplicates of a name already kept. It returns the
// kept names in order and the dropped ones.
func ExcludeExisting(pending []string, destCache, destLive *models.Listing) ([]string, []string) {
	existing := destinationKeys(destCache, destLive)

	kept := make([]string, 0, len(pending))
	var dropped []string

	for _, name := range pending {
		key := norm.NFC.String(name)
		if _, ok := existing[key]; ok {
			dropped = append(dropped, name)
			continue
		}
		existing[key] = struct{}{}
		kept = append(kept, name)
	}

	return kept, dropped
}

func destinationKeys(destCache, destLive *models.Listing) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, name := range destCache.DirNames() {
		keys[norm.NFC.String(name)] = struct{}{}
	}
	for _, name := range destLive.DirNames() {
		keys[norm.NFC.String(name)] = struct{}{}
	}

	return keys
}
