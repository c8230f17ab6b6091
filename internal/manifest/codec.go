package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"medialib/internal/contentaddr"
)

// ErrCorrupt indicates a manifest that is not a valid record array.
var ErrCorrupt = errors.New("manifest corrupt")

type wireRecord struct {
	Name      string    `json:"name"`
	MD5       string    `json:"md5"`
	InputType string    `json:"input_type,omitempty"`
	Type      string    `json:"type,omitempty"`
	Tags      []string  `json:"tags"`
	Info      []float64 `json:"info"`
}

// Decode parses a manifest document. Records without an explicit type take
// the fallback category; a zero fallback makes the type mandatory.
func Decode(data []byte, fallback Category) ([]Record, error) {
	var wire []wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	records := make([]Record, 0, len(wire))
	for i, w := range wire {
		rec, err := w.record(fallback)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (w wireRecord) record(fallback Category) (Record, error) {
	typ := w.InputType
	if typ == "" {
		typ = w.Type
	}
	category := fallback
	if typ != "" {
		parsed, err := ParseCategory(typ)
		if err != nil {
			return Record{}, err
		}
		category = parsed
	}
	if category == "" {
		return Record{}, fmt.Errorf("record %q has no input_type", w.Name)
	}
	key, err := contentaddr.ParseKey(w.MD5)
	if err != nil {
		return Record{}, err
	}
	info, err := infoFor(category, w.Info)
	if err != nil {
		return Record{}, err
	}
	tags := w.Tags
	if tags == nil {
		tags = []string{}
	}
	return Record{Name: w.Name, Key: key, Category: category, Tags: tags, Info: info}, nil
}

func wireFor(rec Record) wireRecord {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return wireRecord{
		Name:      rec.Name,
		MD5:       rec.Key.String(),
		InputType: string(rec.Category),
		Tags:      tags,
		Info:      rec.Info.Values(),
	}
}

// Encode renders records as a manifest document with one record per line.
func Encode(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return []byte("[]\n"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("[\n")
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		line, err := marshalLine(wireFor(rec))
		if err != nil {
			return nil, fmt.Errorf("encode record %q: %w", rec.Name, err)
		}
		buf.Write(line)
		if i < len(records)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}

func marshalLine(w wireRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
