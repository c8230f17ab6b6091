package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"medialib/internal/config"
	"medialib/internal/fileutil"
	"medialib/internal/logging"
)

// ErrMissing indicates a manifest file that has not been created.
var ErrMissing = errors.New("manifest missing")

const lockRetryDelay = 25 * time.Millisecond

// Store reads and rewrites the manifest of each category.
type Store struct {
	paths  map[Category]string
	locks  map[Category]*sync.Mutex
	logger *slog.Logger
}

// New builds a store over the given manifest paths. Every category must have
// a path; the files themselves are not touched.
func New(paths map[Category]string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		paths:  make(map[Category]string, len(Categories)),
		locks:  make(map[Category]*sync.Mutex, len(Categories)),
		logger: logging.NewComponentLogger(logger, "manifest"),
	}
	for _, c := range Categories {
		p, ok := paths[c]
		if !ok || p == "" {
			return nil, fmt.Errorf("manifest path for %s not configured", c)
		}
		s.paths[c] = p
		s.locks[c] = &sync.Mutex{}
	}
	return s, nil
}

// FromConfig builds a store over the configured manifest files.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	paths := make(map[Category]string, len(Categories))
	for name, p := range cfg.ManifestPaths() {
		c, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		paths[c] = p
	}
	return New(paths, logger)
}

// Path returns the manifest file of a category.
func (s *Store) Path(c Category) (string, error) {
	p, ok := s.paths[c]
	if !ok {
		return "", fmt.Errorf("unknown asset category %q", c)
	}
	return p, nil
}

// Check verifies that every manifest exists. Missing files are reported
// together so a fresh install can be fixed in one pass.
func (s *Store) Check() error {
	var errs []error
	for _, c := range Categories {
		if _, err := os.Stat(s.paths[c]); err != nil {
			errs = append(errs, s.statError(c, err))
		}
	}
	return errors.Join(errs...)
}

// Init creates an empty manifest for c when none exists. It reports whether a
// file was created.
func (s *Store) Init(c Category) (bool, error) {
	path, err := s.Path(c)
	if err != nil {
		return false, err
	}
	mu := s.locks[c]
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat manifest %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create manifest directory: %w", err)
	}
	data, _ := Encode(nil)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write manifest %s: %w", path, err)
	}
	s.logger.Info("manifest created", logging.String(logging.FieldCategory, c.String()), logging.String("path", path))
	return true, nil
}

// Load returns the records of c, newest first.
func (s *Store) Load(c Category) ([]Record, error) {
	path, err := s.Path(c)
	if err != nil {
		return nil, err
	}
	return s.read(c, path)
}

// Prepend inserts rec at the head of its category manifest. Prepends on the
// same category are serialized within the process and across processes.
func (s *Store) Prepend(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	path, err := s.Path(rec.Category)
	if err != nil {
		return err
	}

	mu := s.locks[rec.Category]
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return s.statError(rec.Category, err)
	}
	unlock, err := lockFile(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	records, err := s.read(rec.Category, path)
	if err != nil {
		return err
	}
	updated := make([]Record, 0, len(records)+1)
	updated = append(updated, rec)
	updated = append(updated, records...)

	data, err := Encode(updated)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("rewrite manifest %s: %w", path, err)
	}
	s.logger.Debug("manifest record prepended",
		logging.String(logging.FieldCategory, rec.Category.String()),
		logging.String(logging.FieldKey, rec.Key.String()),
		logging.Int("records", len(updated)),
	)
	return nil
}

func (s *Store) read(c Category, path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, s.statError(c, err)
	}
	records, err := Decode(data, c)
	if err != nil {
		return nil, fmt.Errorf("%s manifest %s: %w", c, path, err)
	}
	return records, nil
}

func (s *Store) statError(c Category, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s manifest %s", ErrMissing, c, s.paths[c])
	}
	return fmt.Errorf("read %s manifest: %w", c, err)
}

func lockFile(ctx context.Context, path string) (func(), error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock manifest %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock manifest %s: not acquired", path)
	}
	return func() { _ = lock.Unlock() }, nil
}
