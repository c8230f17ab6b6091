package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeManifests()
	c.normalizeContent()
	if err := c.normalizeCrawl(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.Root) == "" {
		c.Paths.Root = defaultRoot
	}
	if c.Paths.Root, err = expandPath(c.Paths.Root); err != nil {
		return fmt.Errorf("paths.root: %w", err)
	}

	dirs := []struct {
		key    string
		value  *string
		subdir string
	}{
		{"paths.asset_dir", &c.Paths.AssetDir, defaultAssetSubdir},
		{"paths.thumbnail_dir", &c.Paths.ThumbnailDir, defaultThumbnailSubdir},
		{"paths.manifest_dir", &c.Paths.ManifestDir, defaultManifestSubdir},
		{"paths.scratch_dir", &c.Paths.ScratchDir, defaultScratchSubdir},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateSubdir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogSubdir},
		{"paths.project_dir", &c.Paths.ProjectDir, defaultProjectSubdir},
	}
	for _, dir := range dirs {
		if strings.TrimSpace(*dir.value) == "" {
			*dir.value = filepath.Join(c.Paths.Root, filepath.FromSlash(dir.subdir))
		}
		if *dir.value, err = expandPath(*dir.value); err != nil {
			return fmt.Errorf("%s: %w", dir.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeManifests() {
	fallback := func(value, def string) string {
		value = strings.TrimSpace(value)
		if value == "" {
			return def
		}
		return value
	}
	c.Manifests.Backdrop = fallback(c.Manifests.Backdrop, defaultBackdropManifest)
	c.Manifests.Costume = fallback(c.Manifests.Costume, defaultCostumeManifest)
	c.Manifests.Sound = fallback(c.Manifests.Sound, defaultSoundManifest)
	c.Manifests.Sprite = fallback(c.Manifests.Sprite, defaultSpriteManifest)
}

func (c *Config) normalizeContent() {
	c.Content.HashAlgorithm = strings.ToLower(strings.TrimSpace(c.Content.HashAlgorithm))
	if c.Content.HashAlgorithm == "" {
		c.Content.HashAlgorithm = defaultHashAlgorithm
	}
	if c.Content.ThumbnailMaxDimension <= 0 {
		c.Content.ThumbnailMaxDimension = defaultThumbnailMaxDimension
	}
	tags := make([]string, 0, len(c.Content.Tags))
	seen := make(map[string]struct{}, len(c.Content.Tags))
	for _, tag := range c.Content.Tags {
		normalized := strings.TrimSpace(tag)
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		tags = append(tags, normalized)
	}
	c.Content.Tags = tags
}

func (c *Config) normalizeCrawl() error {
	if value, ok := os.LookupEnv("MEDIALIB_ORIGIN"); ok && strings.TrimSpace(value) != "" {
		c.Crawl.Origin = value
	}
	c.Crawl.Origin = strings.TrimRight(strings.TrimSpace(c.Crawl.Origin), "/")
	if c.Crawl.Origin == "" {
		c.Crawl.Origin = defaultOrigin
	}
	if c.Crawl.Workers <= 0 {
		c.Crawl.Workers = defaultCrawlWorkers
	}
	if c.Crawl.RequestTimeoutSeconds <= 0 {
		c.Crawl.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if c.Crawl.RetryBackoffMillis < 0 {
		c.Crawl.RetryBackoffMillis = 0
	}
	if c.Crawl.RequestsPerSecond < 0 {
		c.Crawl.RequestsPerSecond = 0
	}
	if c.Crawl.BreakerThreshold < 0 {
		c.Crawl.BreakerThreshold = 0
	}
	if c.Crawl.BreakerCooldownSeconds <= 0 {
		c.Crawl.BreakerCooldownSeconds = defaultBreakerCooldown
	}
	if strings.TrimSpace(c.Crawl.MetricsFile) != "" {
		var err error
		if c.Crawl.MetricsFile, err = expandPath(c.Crawl.MetricsFile); err != nil {
			return fmt.Errorf("crawl.metrics_file: %w", err)
		}
	}
	urls := make([]string, 0, len(c.Crawl.RemoteManifests))
	for _, u := range c.Crawl.RemoteManifests {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	c.Crawl.RemoteManifests = urls
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
