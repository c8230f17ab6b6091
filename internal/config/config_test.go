package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"medialib/internal/config"
)

func TestLoadDefaultConfigDerivesPathsFromRoot(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("MEDIALIB_ORIGIN", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	root := filepath.Join(tempHome, ".local", "share", "medialib")
	if cfg.Paths.Root != root {
		t.Fatalf("unexpected root: got %q want %q", cfg.Paths.Root, root)
	}
	if want := filepath.Join(root, "internalapi", "asset"); cfg.Paths.AssetDir != want {
		t.Fatalf("unexpected asset dir: got %q want %q", cfg.Paths.AssetDir, want)
	}
	if want := filepath.Join(root, "scratchr2", "static", "medialibrarythumbnails"); cfg.Paths.ThumbnailDir != want {
		t.Fatalf("unexpected thumbnail dir: got %q want %q", cfg.Paths.ThumbnailDir, want)
	}
	manifests := cfg.ManifestPaths()
	if want := filepath.Join(root, "scratchr2", "static", "medialibraries", "spriteLibrary.json"); manifests["sprite"] != want {
		t.Fatalf("unexpected sprite manifest: got %q want %q", manifests["sprite"], want)
	}
	if cfg.Content.HashAlgorithm != "md5" {
		t.Fatalf("expected md5 default, got %q", cfg.Content.HashAlgorithm)
	}
	if len(cfg.Content.Tags) != 1 || cfg.Content.Tags[0] != "custom" {
		t.Fatalf("unexpected default tags: %v", cfg.Content.Tags)
	}
	if cfg.Crawl.Origin != config.Default().Crawl.Origin {
		t.Fatalf("unexpected origin: %q", cfg.Crawl.Origin)
	}
	if !cfg.Crawl.VerifyHash {
		t.Fatal("expected hash verification enabled by default")
	}
	if cfg.Crawl.PersistHistory {
		t.Fatal("expected crawl history disabled by default")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.AssetDir, cfg.Paths.ThumbnailDir, cfg.Paths.ScratchDir, cfg.Paths.StateDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
	if _, err := os.Stat(manifests["sprite"]); !os.IsNotExist(err) {
		t.Fatalf("manifest files must not be created implicitly: %v", err)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "medialib.toml")
	t.Setenv("MEDIALIB_ORIGIN", "")

	type payload struct {
		Paths struct {
			Root     string `toml:"root"`
			AssetDir string `toml:"asset_dir"`
		} `toml:"paths"`
		Content struct {
			HashAlgorithm string   `toml:"hash_algorithm"`
			Tags          []string `toml:"tags"`
		} `toml:"content"`
		Crawl struct {
			Origin  string `toml:"origin"`
			Workers int    `toml:"workers"`
		} `toml:"crawl"`
	}
	custom := payload{}
	custom.Paths.Root = filepath.Join(tempDir, "lib")
	custom.Paths.AssetDir = filepath.Join(tempDir, "blobs")
	custom.Content.HashAlgorithm = "BLAKE3"
	custom.Content.Tags = []string{" custom ", "custom", "", "mirror"}
	custom.Crawl.Origin = "http://mirror.example.com/asset/"
	custom.Crawl.Workers = 8
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.AssetDir != filepath.Join(tempDir, "blobs") {
		t.Fatalf("expected asset dir override, got %q", cfg.Paths.AssetDir)
	}
	if cfg.Paths.StateDir != filepath.Join(tempDir, "lib", "state") {
		t.Fatalf("expected state dir under root, got %q", cfg.Paths.StateDir)
	}
	if cfg.Content.HashAlgorithm != "blake3" {
		t.Fatalf("expected normalized algorithm, got %q", cfg.Content.HashAlgorithm)
	}
	if strings.Join(cfg.Content.Tags, ",") != "custom,mirror" {
		t.Fatalf("unexpected tags: %v", cfg.Content.Tags)
	}
	if cfg.Crawl.Origin != "http://mirror.example.com/asset" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Crawl.Origin)
	}
	if cfg.Crawl.Workers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Crawl.Workers)
	}
}

func TestEnvVarOverridesOrigin(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MEDIALIB_ORIGIN", "https://assets.example.org/internalapi/asset")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Crawl.Origin != "https://assets.example.org/internalapi/asset" {
		t.Fatalf("expected origin from env, got %q", cfg.Crawl.Origin)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Manifests.Costume != "costumeLibrary.json" {
		t.Fatalf("unexpected costume manifest in sample: %q", cfg.Manifests.Costume)
	}
	if cfg.Crawl.Origin == "" {
		t.Fatal("sample config missing crawl origin")
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Content.HashAlgorithm = "sha1"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported hash algorithm")
	}

	cfg = config.Default()
	cfg.Crawl.Origin = "ftp://example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-http origin")
	}

	cfg = config.Default()
	cfg.Crawl.MaxRetries = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for excessive retries")
	}

	cfg = config.Default()
	cfg.Manifests.Sound = cfg.Manifests.Costume
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when two categories share a manifest")
	}

	cfg = config.Default()
	cfg.Manifests.Sprite = "sprites.txt"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-json manifest")
	}

	cfg = config.Default()
	cfg.Paths.AssetDir = "/srv/lib/assets"
	cfg.Paths.ThumbnailDir = "/srv/lib/assets"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when thumbnails share the asset dir")
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestEncodeRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	data, err := cfg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal encoded config: %v", err)
	}
	if decoded.Paths.AssetDir != cfg.Paths.AssetDir {
		t.Fatalf("asset dir mismatch after round trip: %q", decoded.Paths.AssetDir)
	}
}

func TestCrawlBreakerAndMetricsSettings(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MEDIALIB_ORIGIN", "")

	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[crawl]\nbreaker_threshold = -3\nbreaker_cooldown_seconds = 0\nmetrics_file = \"~/state/crawl.prom\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Crawl.BreakerThreshold != 0 {
		t.Fatalf("negative threshold should disable the breaker, got %d", cfg.Crawl.BreakerThreshold)
	}
	if cfg.BreakerCooldown().Seconds() != 30 {
		t.Fatalf("expected default cooldown, got %s", cfg.BreakerCooldown())
	}
	if want := filepath.Join(home, "state", "crawl.prom"); cfg.Crawl.MetricsFile != want {
		t.Fatalf("unexpected metrics file: got %q want %q", cfg.Crawl.MetricsFile, want)
	}
	if config.Default().Crawl.BreakerThreshold <= 0 {
		t.Fatal("expected the breaker enabled by default")
	}
}
