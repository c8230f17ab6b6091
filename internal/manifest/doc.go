// Package manifest owns the per-category JSON library indexes.
//
// A manifest is a JSON array of records, newest first. Records are decoded
// eagerly into category-specific metadata so malformed entries surface as
// ErrCorrupt on load instead of at use time. Every mutation rewrites the whole
// file through an atomic rename while holding both an in-process mutex and a
// file lock next to the manifest, so concurrent prepends never clobber each
// other. Manifests are never created implicitly; Init exists for the
// out-of-band setup step.
package manifest
