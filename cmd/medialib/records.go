package main

import (
	"strconv"
	"strings"

	"medialib/internal/manifest"
)

type recordView struct {
	Name     string    `json:"name"`
	Key      string    `json:"key"`
	Category string    `json:"category"`
	Tags     []string  `json:"tags"`
	Info     []float64 `json:"info"`
}

func viewRecord(rec manifest.Record) recordView {
	return recordView{
		Name:     rec.Name,
		Key:      rec.Key.String(),
		Category: rec.Category.String(),
		Tags:     rec.Tags,
		Info:     rec.Info.Values(),
	}
}

func viewRecords(records []manifest.Record) []recordView {
	out := make([]recordView, 0, len(records))
	for _, rec := range records {
		out = append(out, viewRecord(rec))
	}
	return out
}

func recordRows(records []manifest.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.Name,
			rec.Key.String(),
			strings.Join(rec.Tags, ","),
			formatInfo(rec.Info.Values()),
		})
	}
	return rows
}

func formatInfo(values []float64) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// parseCategoryFlag accepts "auto" or empty as no override.
func parseCategoryFlag(value string) (manifest.Category, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "auto") {
		return "", nil
	}
	return manifest.ParseCategory(value)
}
