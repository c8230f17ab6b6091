// Package sprite reads Scratch sprite descriptors and lists the costume and
// sound assets they reference.
package sprite

import (
	"encoding/json"
	"errors"
	"fmt"

	"medialib/internal/contentaddr"
	"medialib/internal/manifest"
)

// ErrMalformedDescriptor indicates descriptor bytes that are not a JSON object.
var ErrMalformedDescriptor = errors.New("malformed sprite descriptor")

// AssetRef is one asset referenced by a sprite.
type AssetRef struct {
	Key      contentaddr.Key
	Category manifest.Category
}

// Invalid describes a reference that was present but could not be parsed.
type Invalid struct {
	Field string
	Value string
	Err   error
}

// Resolution is the outcome of resolving one descriptor.
type Resolution struct {
	Refs    []AssetRef
	Invalid []Invalid
}

type descriptor struct {
	Sounds   json.RawMessage `json:"sounds"`
	Costumes json.RawMessage `json:"costumes"`
}

// Resolve parses a sprite descriptor and returns the assets it references,
// sounds first, then costumes in descriptor order. Only the descriptor's own
// lists are read; referenced assets are never opened. Absent lists and empty
// fields yield nothing. Each key appears at most once. A list, entry or field
// of the wrong JSON type is reported in Invalid without dropping the rest.
func Resolve(data []byte) (Resolution, error) {
	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}

	var res Resolution
	seen := make(map[contentaddr.Key]struct{})
	invalid := func(field string, raw json.RawMessage, err error) {
		res.Invalid = append(res.Invalid, Invalid{Field: field, Value: string(raw), Err: err})
	}
	add := func(field string, raw json.RawMessage, category manifest.Category) {
		if isNull(raw) {
			return
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			invalid(field, raw, fmt.Errorf("not a string: %w", err))
			return
		}
		if value == "" {
			return
		}
		key, err := contentaddr.ParseKey(value)
		if err != nil {
			res.Invalid = append(res.Invalid, Invalid{Field: field, Value: value, Err: err})
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		res.Refs = append(res.Refs, AssetRef{Key: key, Category: category})
	}
	walk := func(list string, raw json.RawMessage, fields []string, category manifest.Category) {
		if isNull(raw) {
			return
		}
		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			invalid(list, raw, fmt.Errorf("not a list: %w", err))
			return
		}
		for _, entry := range entries {
			if isNull(entry) {
				continue
			}
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(entry, &obj); err != nil {
				invalid(list, entry, fmt.Errorf("not an object: %w", err))
				continue
			}
			for _, field := range fields {
				add(list+"."+field, obj[field], category)
			}
		}
	}

	walk("sounds", desc.Sounds, []string{"md5"}, manifest.Sound)
	walk("costumes", desc.Costumes, []string{"baseLayerMD5", "textLayerMD5"}, manifest.Costume)
	return res, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
