package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateManifests(); err != nil {
		return err
	}
	if err := c.validateContent(); err != nil {
		return err
	}
	if err := c.validateCrawl(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.AssetDir != "" && c.Paths.AssetDir == c.Paths.ThumbnailDir {
		return errors.New("paths.asset_dir and paths.thumbnail_dir must differ")
	}
	if c.Paths.ScratchDir != "" && (c.Paths.ScratchDir == c.Paths.AssetDir || c.Paths.ScratchDir == c.Paths.ManifestDir) {
		return errors.New("paths.scratch_dir must not overlap the asset or manifest directories")
	}
	return nil
}

func (c *Config) validateManifests() error {
	seen := make(map[string]string, 4)
	for category, path := range c.ManifestPaths() {
		if filepath.Ext(path) != ".json" {
			return fmt.Errorf("manifests.%s must name a .json file, got %q", category, path)
		}
		if other, dup := seen[path]; dup {
			return fmt.Errorf("manifests.%s and manifests.%s point at the same file %q", other, category, path)
		}
		seen[path] = category
	}
	return nil
}

func (c *Config) validateContent() error {
	switch c.Content.HashAlgorithm {
	case "md5", "blake3":
	default:
		return fmt.Errorf("content.hash_algorithm must be md5 or blake3, got %q", c.Content.HashAlgorithm)
	}
	return nil
}

func (c *Config) validateCrawl() error {
	if err := validateHTTPURL("crawl.origin", c.Crawl.Origin); err != nil {
		return err
	}
	for _, raw := range c.Crawl.RemoteManifests {
		if err := validateHTTPURL("crawl.remote_manifests", raw); err != nil {
			return err
		}
	}
	if c.Crawl.Workers > maxCrawlWorkers {
		return fmt.Errorf("crawl.workers must be at most %d", maxCrawlWorkers)
	}
	if c.Crawl.MaxRetries < 0 || c.Crawl.MaxRetries > maxCrawlRetries {
		return fmt.Errorf("crawl.max_retries must be between 0 and %d", maxCrawlRetries)
	}
	return nil
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}
