package assetstore

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"medialib/internal/contentaddr"
	"medialib/internal/fileutil"
)

// ErrNotFound reports a key with no blob in the store.
var ErrNotFound = errors.New("assetstore: blob not found")

const lockStripes = 64

// staleTempAge is how long a staged file must sit untouched before New
// treats it as abandoned.
const staleTempAge = time.Hour

// Store is a directory of blobs addressed by contentaddr.Key.
type Store struct {
	root  string
	locks [lockStripes]sync.Mutex
}

// New returns a store rooted at dir. The directory must already exist or be
// creatable.
func New(dir string) (*Store, error) {
	dir = filepath.Clean(strings.TrimSpace(dir))
	if dir == "" || dir == "." {
		return nil, errors.New("assetstore: root directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("assetstore: create root: %w", err)
	}
	if _, err := fileutil.RemoveStaleTemps(dir, staleTempAge); err != nil {
		return nil, fmt.Errorf("assetstore: sweep staged files: %w", err)
	}
	return &Store{root: dir}, nil
}

// Path returns the file location for key.
func (s *Store) Path(key contentaddr.Key) string {
	return filepath.Join(s.root, key.String())
}

// Exists reports whether a blob for key is published.
func (s *Store) Exists(key contentaddr.Key) (bool, error) {
	info, err := os.Stat(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Put writes data under key unless a blob is already present. It reports
// whether a new file was written. Puts of the same key are serialized so
// exactly one of them publishes; different keys proceed in parallel.
func (s *Store) Put(key contentaddr.Key, data []byte) (bool, error) {
	if err := validate(key); err != nil {
		return false, err
	}
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	exists, err := s.Exists(key)
	if err != nil {
		return false, fmt.Errorf("assetstore: stat %s: %w", key, err)
	}
	if exists {
		return false, nil
	}
	if err := fileutil.WriteFileAtomic(s.Path(key), data, 0o644); err != nil {
		return false, fmt.Errorf("assetstore: write %s: %w", key, err)
	}
	return true, nil
}

// Get reads the blob stored under key.
func (s *Store) Get(key contentaddr.Key) ([]byte, error) {
	if err := validate(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("assetstore: read %s: %w", key, err)
	}
	return data, nil
}

// Keys lists every published blob in the store.
func (s *Store) Keys() ([]contentaddr.Key, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("assetstore: list: %w", err)
	}
	keys := make([]contentaddr.Key, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		key, err := contentaddr.ParseKey(entry.Name())
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Store) lockFor(key contentaddr.Key) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return &s.locks[h.Sum32()%lockStripes]
}

func validate(key contentaddr.Key) error {
	if _, err := contentaddr.ParseKey(key.String()); err != nil {
		return err
	}
	return nil
}
