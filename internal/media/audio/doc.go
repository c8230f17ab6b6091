// Package audio reads sound containers far enough to describe them.
//
// Only RIFF/WAVE files with PCM sample data are understood. Duration is the
// frame count divided by the sample rate, rounded to milliseconds, which is
// the value sound manifests record in their info field.
//
// Primary entry point:
//   - ProbeWAV: parses a WAV blob and returns its Info
package audio
