// Package projects stores per-user Scratch project files in a flat directory.
// A project saved by user u as f is kept as "u_f"; user names therefore
// cannot contain "_".
package projects

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"medialib/internal/fileutil"
)

// ErrNotFound indicates that a user has no loadable project.
var ErrNotFound = errors.New("project not found")

// ErrInvalidName indicates a user or file name that cannot be stored.
var ErrInvalidName = errors.New("invalid project name")

// ProjectExt is the extension Load and List consider.
const ProjectExt = ".sb2"

// DefaultProject is served by Load when the user has no saved project.
const DefaultProject = "default" + ProjectExt

// Store is a directory of saved projects.
type Store struct {
	dir string
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Project describes one saved file.
type Project struct {
	User     string
	Filename string
	Path     string
	Size     int64
	Modified time.Time
}

// Save writes data as the user's project filename, replacing any previous
// version atomically.
func (s *Store) Save(user, filename string, data []byte) (Project, error) {
	user, err := cleanUser(user)
	if err != nil {
		return Project{}, err
	}
	filename, err = cleanName(filename)
	if err != nil {
		return Project{}, err
	}
	path := filepath.Join(s.dir, user+"_"+filename)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return Project{}, fmt.Errorf("save project: %w", err)
	}
	return stat(user, filename, path)
}

// List returns the user's .sb2 projects, most recently modified first.
func (s *Store) List(user string) ([]Project, error) {
	user, err := cleanUser(user)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read project directory: %w", err)
	}
	prefix := user + "_"
	var out []Project
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.EqualFold(filepath.Ext(name), ProjectExt) {
			continue
		}
		p, err := stat(user, strings.TrimPrefix(name, prefix), filepath.Join(s.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Project) int {
		if c := b.Modified.Compare(a.Modified); c != 0 {
			return c
		}
		return strings.Compare(a.Filename, b.Filename)
	})
	return out, nil
}

// Load returns the user's most recently saved project. When the user has
// none, the shared default project is returned if present.
func (s *Store) Load(user string) (Project, []byte, error) {
	list, err := s.List(user)
	if err != nil {
		return Project{}, nil, err
	}
	var p Project
	if len(list) > 0 {
		p = list[0]
	} else {
		p, err = stat("", DefaultProject, filepath.Join(s.dir, DefaultProject))
		if errors.Is(err, fs.ErrNotExist) {
			return Project{}, nil, fmt.Errorf("%w: user %q", ErrNotFound, user)
		}
		if err != nil {
			return Project{}, nil, err
		}
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return Project{}, nil, fmt.Errorf("read project: %w", err)
	}
	return p, data, nil
}

func stat(user, filename, path string) (Project, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Project{}, err
	}
	return Project{User: user, Filename: filename, Path: path, Size: info.Size(), Modified: info.ModTime()}, nil
}

func cleanUser(value string) (string, error) {
	user, err := cleanName(value)
	if err != nil {
		return "", err
	}
	if strings.Contains(user, "_") {
		return "", fmt.Errorf("%w: user %q contains _", ErrInvalidName, user)
	}
	return user, nil
}

func cleanName(value string) (string, error) {
	value = norm.NFC.String(strings.TrimSpace(value))
	if value == "" || value == "." || value == ".." || strings.ContainsAny(value, `/\`) || strings.ContainsRune(value, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, value)
	}
	return value, nil
}
