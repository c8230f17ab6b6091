package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"medialib/internal/contentaddr"
	"medialib/internal/logging"
	"medialib/internal/manifest"
	"medialib/internal/sprite"
)

// ErrInvalidBundle indicates a sprite bundle that cannot be expanded.
var ErrInvalidBundle = errors.New("invalid sprite bundle")

// maxMemberBytes bounds a single extracted bundle member.
const maxMemberBytes = 64 << 20

// Expand unpacks the sprite bundle at path and records the sprite under name.
func (i *Ingestor) Expand(ctx context.Context, path, name string) (manifest.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest.Record{}, fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := i.manifests.Load(manifest.Sprite); err != nil {
		return manifest.Record{}, err
	}
	return i.expand(ctx, data, displayName(name, path))
}

func (i *Ingestor) expand(ctx context.Context, data []byte, name string) (manifest.Record, error) {
	scratch, cleanup, err := i.scratch()
	if err != nil {
		return manifest.Record{}, err
	}
	defer cleanup()

	logger := logging.WithContext(ctx, i.logger).With(logging.String("sprite", name))

	members, err := extract(data, scratch)
	if err != nil {
		return manifest.Record{}, err
	}

	var (
		assets     []prepared
		descriptor []byte
	)
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return manifest.Record{}, err
		}
		content, err := os.ReadFile(filepath.Join(scratch, member))
		if err != nil {
			return manifest.Record{}, fmt.Errorf("read bundle member %s: %w", member, err)
		}
		ext := contentaddr.ExtOf(member)
		switch ext {
		case ".wav":
			// Bundled sounds may be ADPCM; they are stored without measuring.
			assets = append(assets, prepared{key: i.hasher.KeyFor(content, ext), data: content})
		case ".png", ".svg", ".jpg":
			thumb, err := i.generator.Generate(content, ext)
			if err != nil {
				return manifest.Record{}, fmt.Errorf("bundle member %s: %w", member, err)
			}
			assets = append(assets, prepared{key: i.hasher.KeyFor(content, ext), data: content, thumb: thumb})
		case ".json":
			if descriptor != nil {
				return manifest.Record{}, fmt.Errorf("%w: more than one descriptor", ErrInvalidBundle)
			}
			descriptor = content
		default:
			logging.WarnWithContext(logger, "unknown bundle member skipped", "bundle_member_unknown",
				logging.String("member", member),
				logging.String(logging.FieldImpact, "member not stored"),
			)
		}
	}
	if descriptor == nil {
		return manifest.Record{}, fmt.Errorf("%w: no sprite descriptor", ErrInvalidBundle)
	}
	refs, err := sprite.Resolve(descriptor)
	if err != nil {
		return manifest.Record{}, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}

	for _, asset := range assets {
		if err := i.store(asset); err != nil {
			return manifest.Record{}, err
		}
	}
	key := i.hasher.KeyFor(descriptor, ".json")
	if _, err := i.assets.Put(key, descriptor); err != nil {
		return manifest.Record{}, fmt.Errorf("store descriptor %s: %w", key, err)
	}
	i.warnUnbundled(logger, refs)

	rec := manifest.Record{
		Name:     name,
		Key:      key,
		Category: manifest.Sprite,
		Tags:     slices.Clone(i.tags),
		Info:     manifest.NewSpriteInfo(),
	}
	if err := i.manifests.Prepend(ctx, rec); err != nil {
		return manifest.Record{}, err
	}
	logger.Info("sprite ingested",
		logging.String(logging.FieldKey, key.String()),
		logging.Int("members", len(assets)),
	)
	return rec, nil
}

// warnUnbundled reports descriptor references that are not in the store after
// expansion. The sprite is still recorded; a later crawl may supply them.
func (i *Ingestor) warnUnbundled(logger *slog.Logger, refs sprite.Resolution) {
	for _, ref := range refs.Refs {
		ok, err := i.assets.Exists(ref.Key)
		if err == nil && ok {
			continue
		}
		logger.Warn("sprite references an asset missing from the bundle",
			logging.String(logging.FieldKey, ref.Key.String()),
			logging.String(logging.FieldCategory, ref.Category.String()),
		)
	}
	for _, bad := range refs.Invalid {
		logger.Warn("sprite descriptor has an invalid reference",
			logging.String("field", bad.Field),
			logging.String("value", bad.Value),
		)
	}
}

// scratch creates a fresh directory owned by one expansion.
func (i *Ingestor) scratch() (string, func(), error) {
	dir := filepath.Join(i.scratchDir, "sprite-"+uuid.NewString())
	if err := os.RemoveAll(dir); err != nil {
		return "", nil, fmt.Errorf("clear scratch directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// extract writes the regular files of the archive into dir, flattened to
// their base names, and returns those names in sorted order.
func extract(data []byte, dir string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	var names []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(f.Name, `\`, "/")))
		if base == "." || base == "/" || strings.HasPrefix(base, ".") {
			continue
		}
		if slices.Contains(names, base) {
			return nil, fmt.Errorf("%w: duplicate member %s", ErrInvalidBundle, base)
		}
		if err := extractMember(f, filepath.Join(dir, base)); err != nil {
			return nil, err
		}
		names = append(names, base)
	}
	slices.Sort(names)
	return names, nil
}

func extractMember(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrInvalidBundle, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	n, copyErr := io.Copy(out, io.LimitReader(rc, maxMemberBytes+1))
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("%w: extract %s: %v", ErrInvalidBundle, f.Name, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", dest, closeErr)
	}
	if n > maxMemberBytes {
		return fmt.Errorf("%w: member %s exceeds %d bytes", ErrInvalidBundle, f.Name, maxMemberBytes)
	}
	return nil
}
