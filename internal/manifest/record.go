package manifest

import (
	"fmt"
	"slices"
	"strings"

	"medialib/internal/contentaddr"
)

// Category identifies an asset library.
type Category string

const (
	Backdrop Category = "backdrop"
	Costume  Category = "costume"
	Sound    Category = "sound"
	Sprite   Category = "sprite"
)

// Categories lists every library category in crawl order.
var Categories = []Category{Backdrop, Sound, Sprite, Costume}

// ParseCategory maps a user or wire value to a Category.
func ParseCategory(value string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(value)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown asset category %q", value)
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case Backdrop, Costume, Sound, Sprite:
		return true
	default:
		return false
	}
}

func (c Category) String() string { return string(c) }

// Metadata is the category-specific info payload of a record.
type Metadata interface {
	Category() Category
	// Values renders the payload as the wire info array.
	Values() []float64
}

// CostumeInfo carries the rotation center of a costume image. Extra keeps
// any trailing values (such as bitmap resolution) found in existing libraries.
type CostumeInfo struct {
	RotationCenterX float64
	RotationCenterY float64
	Extra           []float64
}

func (CostumeInfo) Category() Category { return Costume }

func (i CostumeInfo) Values() []float64 {
	return append([]float64{i.RotationCenterX, i.RotationCenterY}, i.Extra...)
}

// SoundInfo carries the duration of a sound in seconds.
type SoundInfo struct {
	DurationSeconds float64
	Extra           []float64
}

func (SoundInfo) Category() Category { return Sound }

func (i SoundInfo) Values() []float64 {
	return append([]float64{i.DurationSeconds}, i.Extra...)
}

// BackdropInfo is empty for ingested backdrops.
type BackdropInfo struct {
	Extra []float64
}

func (BackdropInfo) Category() Category { return Backdrop }

func (i BackdropInfo) Values() []float64 {
	return append([]float64{}, i.Extra...)
}

// DefaultSpriteFlags is the fixed info triple written for ingested sprites.
var DefaultSpriteFlags = []float64{0, 1, 1}

// SpriteInfo carries the legacy sprite flag values.
type SpriteInfo struct {
	Flags []float64
}

func (SpriteInfo) Category() Category { return Sprite }

func (i SpriteInfo) Values() []float64 {
	return append([]float64{}, i.Flags...)
}

// NewSpriteInfo returns the placeholder metadata used for ingested sprites.
func NewSpriteInfo() SpriteInfo {
	return SpriteInfo{Flags: slices.Clone(DefaultSpriteFlags)}
}

// Record is one library entry.
type Record struct {
	Name     string
	Key      contentaddr.Key
	Category Category
	Tags     []string
	Info     Metadata
}

// Validate checks that the record is internally consistent.
func (r Record) Validate() error {
	if !r.Category.Valid() {
		return fmt.Errorf("record %q: unknown category %q", r.Name, r.Category)
	}
	if r.Key.IsZero() {
		return fmt.Errorf("record %q: missing content key", r.Name)
	}
	if r.Info == nil {
		return fmt.Errorf("record %q: missing info", r.Name)
	}
	if r.Info.Category() != r.Category {
		return fmt.Errorf("record %q: %s info on %s record", r.Name, r.Info.Category(), r.Category)
	}
	return nil
}

// infoFor builds typed metadata from wire values.
func infoFor(category Category, values []float64) (Metadata, error) {
	switch category {
	case Costume:
		if len(values) < 2 {
			return nil, fmt.Errorf("costume info needs a rotation center, got %d values", len(values))
		}
		return CostumeInfo{RotationCenterX: values[0], RotationCenterY: values[1], Extra: tail(values, 2)}, nil
	case Sound:
		if len(values) < 1 {
			return nil, fmt.Errorf("sound info needs a duration")
		}
		return SoundInfo{DurationSeconds: values[0], Extra: tail(values, 1)}, nil
	case Backdrop:
		return BackdropInfo{Extra: tail(values, 0)}, nil
	case Sprite:
		return SpriteInfo{Flags: tail(values, 0)}, nil
	default:
		return nil, fmt.Errorf("unknown category %q", category)
	}
}

func tail(values []float64, from int) []float64 {
	if len(values) <= from {
		return nil
	}
	return slices.Clone(values[from:])
}
