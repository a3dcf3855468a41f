// Package cache persists generated artifacts per (name, mode). Each mode owns a
// separate directory, so the namespaces cannot read each other's records.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flarebyte/ergo/internal/artifact"
	"github.com/flarebyte/ergo/internal/fsutil"
	"github.com/flarebyte/ergo/internal/logging"
	"github.com/sirupsen/logrus"
)

const (
	commandsFile = "commands.yaml"
	lastFile     = "last"
)

// CorruptionError describes unreadable cache content that was discarded.
type CorruptionError struct {
	Path string
	Name string // empty when the whole file was unreadable
	Err  error
}

func (e *CorruptionError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("cache %s: dropping record %q: %v", e.Path, e.Name, e.Err)
	}
	return fmt.Sprintf("cache %s is corrupt, treating as empty: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Option configures a Store.
type Option func(*Store)

// WithWarningHandler receives recoverable problems such as corruption.
func WithWarningHandler(fn func(error)) Option {
	return func(s *Store) { s.warn = fn }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// Store is the cache for a single mode.
type Store struct {
	dir  string
	mode artifact.Mode
	warn func(error)
	log  logrus.FieldLogger
}

// Open returns the store for mode under root, creating its directory.
func Open(root string, mode artifact.Mode, opts ...Option) (*Store, error) {
	if _, err := artifact.ParseMode(string(mode)); err != nil {
		return nil, err
	}
	s := &Store{
		dir:  filepath.Join(root, string(mode)),
		mode: mode,
		warn: func(error) {},
		log:  logging.Discard(),
	}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return s, nil
}

func (s *Store) Mode() artifact.Mode { return s.mode }
func (s *Store) Dir() string         { return s.dir }
func (s *Store) Path() string        { return filepath.Join(s.dir, commandsFile) }

func (s *Store) corrupt(err *CorruptionError) {
	s.log.WithError(err.Err).WithField("record", err.Name).Warn("cache corruption")
	s.warn(err)
}

func (s *Store) load() (map[string]artifact.Record, error) {
	b, ok, err := fsutil.ReadFileIfExists(s.Path())
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if !ok {
		return map[string]artifact.Record{}, nil
	}
	m, err := Unmarshal(b)
	if err != nil {
		s.corrupt(&CorruptionError{Path: s.Path(), Err: err})
		return map[string]artifact.Record{}, nil
	}
	for name, rec := range m {
		err := rec.Validate()
		if err == nil && rec.Name != name {
			err = fmt.Errorf("stored under %q but named %q", name, rec.Name)
		}
		if err == nil && rec.Mode != s.mode {
			err = fmt.Errorf("mode %q in %s cache", rec.Mode, s.mode)
		}
		if err != nil {
			s.corrupt(&CorruptionError{Path: s.Path(), Name: name, Err: err})
			delete(m, name)
		}
	}
	return m, nil
}

func (s *Store) save(m map[string]artifact.Record) error {
	b, err := Marshal(m)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.Path(), b, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Get returns the record for name, if any.
func (s *Store) Get(name string) (artifact.Record, bool, error) {
	m, err := s.load()
	if err != nil {
		return artifact.Record{}, false, err
	}
	rec, ok := m[name]
	return rec, ok, nil
}

// Put stores rec, replacing any record with the same name.
func (s *Store) Put(rec artifact.Record) error {
	if rec.Mode != s.mode {
		return fmt.Errorf("record %q has mode %q, store is %q", rec.Name, rec.Mode, s.mode)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid record: %w", err)
	}
	m, err := s.load()
	if err != nil {
		return err
	}
	m[rec.Name] = rec
	if err := s.save(m); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"command": rec.Name, "revision": rec.Revision}).Debug("cache put")
	return nil
}

// Invalidate removes name and reports whether it existed.
func (s *Store) Invalidate(name string) (bool, error) {
	m, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := m[name]; !ok {
		return false, nil
	}
	delete(m, name)
	if err := s.save(m); err != nil {
		return false, err
	}
	if last, ok, _ := s.Last(); ok && last == name {
		_ = os.Remove(filepath.Join(s.dir, lastFile))
	}
	return true, nil
}

// List returns every record sorted by name.
func (s *Store) List() ([]artifact.Record, error) {
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]artifact.Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Clear removes every record and the last-command marker.
func (s *Store) Clear() error {
	if err := s.save(map[string]artifact.Record{}); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, lastFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Stats summarizes the store.
type Stats struct {
	Mode       artifact.Mode
	Dir        string
	Total      int
	Approved   int
	TotalUsage int
	MostUsed   string
}

func (s *Store) Stats() (Stats, error) {
	recs, err := s.List()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Mode: s.mode, Dir: s.dir, Total: len(recs)}
	best := 0
	for _, r := range recs {
		if r.Approved() {
			st.Approved++
		}
		st.TotalUsage += r.UsageCount
		if r.UsageCount > best {
			best = r.UsageCount
			st.MostUsed = r.Name
		}
	}
	return st, nil
}

// SetLast remembers name as the most recently resolved command.
func (s *Store) SetLast(name string) error {
	if err := artifact.ValidateName(name); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(s.dir, lastFile), []byte(name+"\n"), 0o644)
}

// Last returns the most recently resolved command, if any.
func (s *Store) Last() (string, bool, error) {
	b, ok, err := fsutil.ReadFileIfExists(filepath.Join(s.dir, lastFile))
	if err != nil || !ok {
		return "", false, err
	}
	name := strings.TrimSpace(string(b))
	if artifact.ValidateName(name) != nil {
		return "", false, nil
	}
	return name, true, nil
}
