// Package logstore persists closed sessions as one JSON file per session.
package logstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/czerwonk/ping_tracker/session"
)

// ErrInvalidKey is returned when saving a session whose identity does not
// follow the key format.
var ErrInvalidKey = errors.New("invalid session key")

// Store keeps closed sessions in a directory, one file per session named
// after its identity.
type Store struct {
	dir    string
	loc    *time.Location
	mu     sync.Mutex
	issued map[string]struct{}
}

// New opens the store in dir, creating the directory if needed. Times of
// day are rendered in the local zone.
func New(dir string) (*Store, error) {
	return NewInLocation(dir, time.Local)
}

// NewInLocation is New with an explicit zone for rendered times of day.
func NewInLocation(dir string, loc *time.Location) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create store directory: %w", err)
	}

	return &Store{
		dir:    dir,
		loc:    loc,
		issued: make(map[string]struct{}),
	}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// NextID returns the identity for a session closed at t. If a session
// closed within the same second already holds the key, a counter is
// appended so the earlier session is not overwritten.
func (s *Store) NextID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := Key(t)
	key := base
	for n := 1; s.taken(key); n++ {
		key = disambiguate(base, n)
	}
	s.issued[key] = struct{}{}

	return key
}

func (s *Store) taken(key string) bool {
	if _, ok := s.issued[key]; ok {
		return true
	}
	_, err := os.Stat(s.path(key))
	return err == nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// Save persists sess under its identity, replacing any earlier entry with
// the same key. The file is written to a temporary name and renamed, so a
// failed write never damages stored sessions.
func (s *Store) Save(sess *session.Session) error {
	if !ValidKey(sess.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, sess.ID)
	}

	b, err := encode(sess, s.loc)
	if err != nil {
		return fmt.Errorf("cannot encode session %s: %w", sess.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeFile(sess.ID, b)
}

func (s *Store) writeFile(key string, b []byte) error {
	f, err := os.CreateTemp(s.dir, ".tmp-"+key+"-*")
	if err != nil {
		return fmt.Errorf("cannot create file for %s: %w", key, err)
	}
	tmp := f.Name()

	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cannot write %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("cannot sync %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cannot close %s: %w", key, err)
	}

	if err := os.Rename(tmp, s.path(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cannot store %s: %w", key, err)
	}

	return nil
}

// List returns all stored sessions, newest first. Entries that cannot be
// read are logged and skipped.
func (s *Store) List() ([]*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.keys()
	if err != nil {
		return nil, err
	}

	res := make([]*session.Session, 0, len(keys))
	for _, key := range keys {
		b, err := os.ReadFile(s.path(key))
		if err != nil {
			log.Warnf("skipping stored session %s: %v", key, err)
			continue
		}

		sess, err := decode(key, b, s.loc)
		if err != nil {
			log.Warnf("skipping stored session %s: %v", key, err)
			continue
		}
		res = append(res, sess)
	}

	return res, nil
}

// Count returns the number of stored sessions.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.keys()
	return len(keys), err
}

// keys returns the stored identities in descending order. Files named
// log-* that do not follow the identity format are not sessions.
func (s *Store) keys() ([]string, error) {
	names, err := s.logFiles()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(names))
	for _, name := range names {
		if key := strings.TrimSuffix(name, fileExt); ValidKey(key) {
			keys = append(keys, key)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	return keys, nil
}

// logFiles returns the names of all log-*.json files.
func (s *Store) logFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read store directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, keyPrefix) && strings.HasSuffix(name, fileExt) {
			names = append(names, name)
		}
	}

	return names, nil
}

// DeleteAll removes every log-* entry. Other files in the directory are
// left alone.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.logFiles()
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("cannot delete %s: %w", name, err))
		}
	}
	clear(s.issued)

	return errors.Join(errs...)
}
