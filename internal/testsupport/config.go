package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"medialib/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t             testing.TB
	baseDir       string
	cfg           *config.Config
	skipManifests bool
}

// NewConfig produces a config seeded with unique temp directories per test.
// Directories are created, and every category manifest starts as an empty
// JSON array. It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.Root = base
	cfgVal.Paths.AssetDir = filepath.Join(base, "asset")
	cfgVal.Paths.ThumbnailDir = filepath.Join(base, "thumbnails")
	cfgVal.Paths.ManifestDir = filepath.Join(base, "libraries")
	cfgVal.Paths.ScratchDir = filepath.Join(base, "tmp")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ProjectDir = filepath.Join(base, "projects")
	cfgVal.Crawl.Origin = "http://127.0.0.1:0/internalapi/asset"
	cfgVal.Crawl.RetryBackoffMillis = 1
	cfgVal.Crawl.RequestTimeoutSeconds = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if !builder.skipManifests {
		for _, path := range builder.cfg.ManifestPaths() {
			WriteFileBytes(t, path, []byte("[]"))
		}
	}

	return builder.cfg
}

// WithOrigin points the crawler at a test server.
func WithOrigin(origin string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Crawl.Origin = origin
	}
}

// WithHashAlgorithm switches the content address digest.
func WithHashAlgorithm(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Content.HashAlgorithm = name
	}
}

// WithoutManifests leaves the manifest directory empty.
func WithoutManifests() ConfigOption {
	return func(b *configBuilder) {
		b.skipManifests = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.Root
}

// WriteFileBytes writes data to path, creating parent directories.
func WriteFileBytes(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
