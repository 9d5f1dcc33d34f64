// Package models defines types shared across internal packages.
package models

import "time"

// Side identifies which end of the sync pair a listing belongs to.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// Entry is one immediate child of a remote directory.
type Entry struct {
	Name     string    `json:"name"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified,omitempty"`
}

// Listing is a snapshot of a remote directory's immediate entries.
// Listings are replaced wholesale on every refresh, never patched.
type Listing struct {
	Path      string    `json:"path"`
	Entries   []Entry   `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// DirNames returns the names of all directory entries, in listing order.
func (l *Listing) DirNames() []string {
	if l == nil {
		return nil
	}

	names := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		if e.IsDir {
			names = append(names, e.Name)
		}
	}

	return names
}

// ListingChange summarises how a freshly fetched listing differs from the
// snapshot it replaced.
type ListingChange struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Changed reports whether any entry was added or removed.
func (c ListingChange) Changed() bool {
	return c.Added > 0 || c.Removed > 0
}
