package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/models"
	"github.com/sergi/go-diff/diffmatchpatch"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the data directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second

	// DBFileName is the name of the database inside the data directory.
	DBFileName = "state.db"
)

var (
	appBucket      = []byte("app")
	tokenKey       = []byte("token")
	lastRefreshKey = []byte("last_refresh")
	listingsBucket = []byte("listings")
)

// State wraps a bbolt database for all persistent application state: the
// cached AList session token and the last fetched listing of each side.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(listingsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// OpenReadOnly opens an existing state database without creating buckets.
// It fails with bolt.ErrTimeout after timeout if a running service holds
// the lock.
func OpenReadOnly(path string, timeout time.Duration) (*State, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: timeout, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Token returns the cached session token, or empty string.
func (s *State) Token() string {
	var token string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(tokenKey)
		if v != nil {
			token = string(v)
		}

		return nil
	})

	return token
}

// SetToken persists the session token.
func (s *State) SetToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(tokenKey, []byte(token))
	})
}

// LastRefresh returns when both listings were last refreshed together,
// or the zero time if never.
func (s *State) LastRefresh() time.Time {
	var t time.Time

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastRefreshKey)
		if v == nil {
			return nil
		}

		return t.UnmarshalText(v)
	})

	return t
}

// SetLastRefresh records a completed refresh of both listings.
func (s *State) SetLastRefresh(t time.Time) error {
	data, err := t.MarshalText()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(lastRefreshKey, data)
	})
}

// Listing returns the persisted listing for a side, or nil if none has
// been saved yet.
func (s *State) Listing(side models.Side) (*models.Listing, error) {
	var l *models.Listing

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(listingsBucket).Get([]byte(side))
		if v == nil {
			return nil
		}

		l = &models.Listing{}

		return json.Unmarshal(v, l)
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s listing: %w", side, err)
	}

	return l, nil
}

// SaveListing replaces the persisted listing for a side and reports how
// its directory names changed compared to the snapshot it replaced.
func (s *State) SaveListing(side models.Side, l *models.Listing) (models.ListingChange, error) {
	var change models.ListingChange

	data, err := json.Marshal(l)
	if err != nil {
		return change, fmt.Errorf("encoding %s listing: %w", side, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(listingsBucket)

		var prev models.Listing
		if v := b.Get([]byte(side)); v != nil {
			if err := json.Unmarshal(v, &prev); err != nil {
				return err
			}
		}

		change = diffNames(prev.DirNames(), l.DirNames())

		return b.Put([]byte(side), data)
	})
	if err != nil {
		return models.ListingChange{}, fmt.Errorf("saving %s listing: %w", side, err)
	}

	return change, nil
}

// diffNames counts added and removed names with a line diff over the
// sorted name lists.
func diffNames(prev, next []string) models.ListingChange {
	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(nameLines(prev), nameLines(next))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var change models.ListingChange

	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")

		switch d.Type {
		case diffmatchpatch.DiffInsert:
			change.Added += n
		case diffmatchpatch.DiffDelete:
			change.Removed += n
		}
	}

	return change
}

func nameLines(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var b strings.Builder
	for _, n := range sorted {
		b.WriteString(n)
		b.WriteByte('\n')
	}

	return b.String()
}

// DBPath returns the database path inside dataDir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFileName)
}
