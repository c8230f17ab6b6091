package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration. Empty directories are derived from
// Root using the layout the Scratch offline editor expects.
type Paths struct {
	Root         string `toml:"root"`
	AssetDir     string `toml:"asset_dir"`
	ThumbnailDir string `toml:"thumbnail_dir"`
	ManifestDir  string `toml:"manifest_dir"`
	ScratchDir   string `toml:"scratch_dir"`
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
	ProjectDir   string `toml:"project_dir"`
}

// Manifests names the index file of each asset category. Relative names are
// resolved against Paths.ManifestDir.
type Manifests struct {
	Backdrop string `toml:"backdrop"`
	Costume  string `toml:"costume"`
	Sound    string `toml:"sound"`
	Sprite   string `toml:"sprite"`
}

// Content contains settings that shape stored assets and manifest records.
type Content struct {
	// HashAlgorithm selects the content address digest: "md5" or "blake3".
	// Changing it on an existing library invalidates every stored key.
	HashAlgorithm         string   `toml:"hash_algorithm"`
	ThumbnailMaxDimension int      `toml:"thumbnail_max_dimension"`
	Tags                  []string `toml:"tags"`
}

// Crawl contains configuration for mirroring assets from a remote origin.
type Crawl struct {
	Origin                string   `toml:"origin"`
	Workers               int      `toml:"workers"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
	MaxRetries            int      `toml:"max_retries"`
	RetryBackoffMillis    int      `toml:"retry_backoff_ms"`
	RequestsPerSecond     float64  `toml:"requests_per_second"`
	VerifyHash            bool     `toml:"verify_hash"`
	PersistHistory        bool     `toml:"persist_history"`
	RemoteManifests       []string `toml:"remote_manifests"`

	// BreakerThreshold is the number of consecutive origin failures that
	// stop further fetches for BreakerCooldownSeconds. 0 disables it.
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
	MetricsFile            string `toml:"metrics_file"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for medialib.
//
// Configuration sections by subsystem:
//   - Paths: asset, thumbnail, manifest, scratch, state, log, and project directories
//   - Manifests: per-category index file names
//   - Content: content addressing, thumbnails, default tags
//   - Crawl: remote origin, worker pool, retries, rate limit, dedup history
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Manifests Manifests `toml:"manifests"`
	Content   Content   `toml:"content"`
	Crawl     Crawl     `toml:"crawl"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/medialib/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("medialib.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories medialib writes into. The
// manifest directory and its index files are deliberately left alone: they
// are created out-of-band (see `medialib library init`).
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.Paths.AssetDir,
		c.Paths.ThumbnailDir,
		c.Paths.ScratchDir,
		c.Paths.StateDir,
		c.Paths.LogDir,
		c.Paths.ProjectDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ManifestPaths returns the absolute index file path for each category,
// keyed by lowercase category name.
func (c *Config) ManifestPaths() map[string]string {
	resolve := func(name string) string {
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(c.Paths.ManifestDir, name)
	}
	return map[string]string{
		"backdrop": resolve(c.Manifests.Backdrop),
		"costume":  resolve(c.Manifests.Costume),
		"sound":    resolve(c.Manifests.Sound),
		"sprite":   resolve(c.Manifests.Sprite),
	}
}

// RequestTimeout returns the per-request crawl timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawl.RequestTimeoutSeconds) * time.Second
}

// RetryBackoff returns the base delay between crawl retries.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Crawl.RetryBackoffMillis) * time.Millisecond
}

// BreakerCooldown returns how long a tripped origin breaker stays open.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Crawl.BreakerCooldownSeconds) * time.Second
}

// HistoryPath returns the location of the persistent crawl history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "crawl_history.db")
}

// LogFilePath returns the location of the persistent log file.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "medialib.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
