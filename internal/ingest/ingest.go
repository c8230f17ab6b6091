package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"medialib/internal/assetstore"
	"medialib/internal/config"
	"medialib/internal/contentaddr"
	"medialib/internal/logging"
	"medialib/internal/manifest"
	"medialib/internal/media/audio"
	"medialib/internal/media/visual"
	"medialib/internal/thumbnail"
)

// ErrUnrecognizedAssetType indicates a file extension outside the known set.
var ErrUnrecognizedAssetType = errors.New("unrecognized asset type")

var categoryByExt = map[string]manifest.Category{
	".wav":     manifest.Sound,
	".jpg":     manifest.Backdrop,
	".png":     manifest.Costume,
	".svg":     manifest.Costume,
	".sprite2": manifest.Sprite,
}

// Classify maps a file name to its library category. Sprite means the file is
// a bundle to expand.
func Classify(path string) (manifest.Category, error) {
	ext := contentaddr.ExtOf(path)
	if c, ok := categoryByExt[ext]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedAssetType, filepath.Base(path))
}

// Options wires an Ingestor.
type Options struct {
	Hasher     contentaddr.Hasher
	Assets     *assetstore.Store
	Thumbnails *assetstore.Store
	Manifests  *manifest.Store
	Generator  thumbnail.Generator
	ScratchDir string
	Tags       []string
	Logger     *slog.Logger
}

// Ingestor runs the push pipeline.
type Ingestor struct {
	hasher     contentaddr.Hasher
	assets     *assetstore.Store
	thumbnails *assetstore.Store
	manifests  *manifest.Store
	generator  thumbnail.Generator
	scratchDir string
	tags       []string
	logger     *slog.Logger
}

// New validates opts and returns an Ingestor. Every manifest must already
// exist.
func New(opts Options) (*Ingestor, error) {
	if opts.Assets == nil || opts.Thumbnails == nil || opts.Manifests == nil {
		return nil, errors.New("ingest: asset store, thumbnail store, and manifests are required")
	}
	if opts.ScratchDir == "" {
		return nil, errors.New("ingest: scratch directory is required")
	}
	if err := opts.Manifests.Check(); err != nil {
		return nil, err
	}
	if opts.Generator.MaxDimension <= 0 {
		opts.Generator = thumbnail.New(0)
	}
	return &Ingestor{
		hasher:     opts.Hasher,
		assets:     opts.Assets,
		thumbnails: opts.Thumbnails,
		manifests:  opts.Manifests,
		generator:  opts.Generator,
		scratchDir: opts.ScratchDir,
		tags:       slices.Clone(opts.Tags),
		logger:     logging.NewComponentLogger(opts.Logger, "ingest"),
	}, nil
}

// FromConfig opens the configured stores and returns an Ingestor over them.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Ingestor, error) {
	hasher, err := contentaddr.NewHasher(cfg.Content.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	assets, err := assetstore.New(cfg.Paths.AssetDir)
	if err != nil {
		return nil, err
	}
	thumbs, err := assetstore.New(cfg.Paths.ThumbnailDir)
	if err != nil {
		return nil, err
	}
	manifests, err := manifest.FromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(Options{
		Hasher:     hasher,
		Assets:     assets,
		Thumbnails: thumbs,
		Manifests:  manifests,
		Generator:  thumbnail.New(cfg.Content.ThumbnailMaxDimension),
		ScratchDir: cfg.Paths.ScratchDir,
		Tags:       cfg.Content.Tags,
		Logger:     logger,
	})
}

// Request describes one file to ingest.
type Request struct {
	Path string
	// Name is the display name; the file name without extension when empty.
	Name string
	// Category forces a category instead of classifying by extension.
	Category manifest.Category
}

// Ingest adds one file and returns the record written to its manifest. For a
// sprite bundle the returned record is the sprite's own.
func (i *Ingestor) Ingest(ctx context.Context, req Request) (manifest.Record, error) {
	if err := ctx.Err(); err != nil {
		return manifest.Record{}, err
	}
	category := req.Category
	if category == "" {
		c, err := Classify(req.Path)
		if err != nil {
			return manifest.Record{}, err
		}
		category = c
	} else if !category.Valid() {
		return manifest.Record{}, fmt.Errorf("%w: category %q", ErrUnrecognizedAssetType, category)
	}

	name := displayName(req.Name, req.Path)
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return manifest.Record{}, fmt.Errorf("read %s: %w", req.Path, err)
	}

	// Fail fast on a broken index before touching the asset store.
	if _, err := i.manifests.Load(category); err != nil {
		return manifest.Record{}, err
	}

	if category == manifest.Sprite {
		return i.expand(ctx, data, name)
	}

	ext := contentaddr.ExtOf(req.Path)
	asset, err := i.prepare(category, data, ext)
	if err != nil {
		return manifest.Record{}, fmt.Errorf("%s %q: %w", category, name, err)
	}
	if err := i.store(asset); err != nil {
		return manifest.Record{}, err
	}

	rec := manifest.Record{
		Name:     name,
		Key:      asset.key,
		Category: category,
		Tags:     slices.Clone(i.tags),
		Info:     asset.info,
	}
	if err := i.manifests.Prepend(ctx, rec); err != nil {
		return manifest.Record{}, err
	}
	i.logger.Info("asset ingested",
		logging.String(logging.FieldCategory, category.String()),
		logging.String(logging.FieldKey, rec.Key.String()),
		logging.String("name", name),
	)
	return rec, nil
}

// Failure records a file that could not be ingested.
type Failure struct {
	Path string
	Err  error
}

// BatchResult summarises a directory ingestion.
type BatchResult struct {
	Records  []manifest.Record
	Failures []Failure
	Skipped  []string
}

// IngestDir ingests the regular files directly inside dir, in name order.
// category forces every file into one category; empty classifies each file.
// Per-file failures are collected and the batch continues; manifest-level
// failures stop the batch and are returned.
func (i *Ingestor) IngestDir(ctx context.Context, dir string, category manifest.Category) (BatchResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return BatchResult{}, fmt.Errorf("read directory %s: %w", dir, err)
	}

	ctx = logging.WithRunID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, i.logger)
	logger.Info("directory ingestion started", logging.String("dir", dir), logging.Int("entries", len(entries)))

	var result BatchResult
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			result.Skipped = append(result.Skipped, path)
			continue
		}
		rec, err := i.Ingest(ctx, Request{Path: path, Category: category})
		if err != nil {
			if errors.Is(err, manifest.ErrCorrupt) || errors.Is(err, manifest.ErrMissing) || ctx.Err() != nil {
				return result, err
			}
			logging.WarnWithContext(logger, "file not ingested", "ingest_file_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file left out of the library"),
			)
			result.Failures = append(result.Failures, Failure{Path: path, Err: err})
			continue
		}
		result.Records = append(result.Records, rec)
	}

	logger.Info("directory ingestion finished",
		logging.Int("ingested", len(result.Records)),
		logging.Int("failed", len(result.Failures)),
		logging.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// prepared is a fully measured asset that has not been written yet.
type prepared struct {
	key   contentaddr.Key
	data  []byte
	thumb []byte
	info  manifest.Metadata
}

func (i *Ingestor) prepare(category manifest.Category, data []byte, ext string) (prepared, error) {
	p := prepared{key: i.hasher.KeyFor(data, ext), data: data}
	switch category {
	case manifest.Sound:
		info, err := audio.ProbeWAV(data)
		if err != nil {
			return prepared{}, err
		}
		p.info = manifest.SoundInfo{DurationSeconds: info.DurationSeconds()}
	case manifest.Costume, manifest.Backdrop:
		info, err := visual.Probe(data, ext)
		if err != nil {
			return prepared{}, err
		}
		thumb, err := i.generator.Generate(data, ext)
		if err != nil {
			return prepared{}, err
		}
		p.thumb = thumb
		if category == manifest.Costume {
			x, y := info.RotationCenter()
			p.info = manifest.CostumeInfo{RotationCenterX: float64(x), RotationCenterY: float64(y)}
		} else {
			p.info = manifest.BackdropInfo{}
		}
	default:
		return prepared{}, fmt.Errorf("%w: category %q", ErrUnrecognizedAssetType, category)
	}
	return p, nil
}

func (i *Ingestor) store(p prepared) error {
	if _, err := i.assets.Put(p.key, p.data); err != nil {
		return fmt.Errorf("store blob %s: %w", p.key, err)
	}
	if p.thumb != nil {
		if _, err := i.thumbnails.Put(p.key, p.thumb); err != nil {
			return fmt.Errorf("store thumbnail %s: %w", p.key, err)
		}
	}
	return nil
}

func displayName(name, path string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return norm.NFC.String(name)
}
