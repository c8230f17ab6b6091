// Package ingest adds local files to the media library.
//
// An Ingestor classifies a file by extension, measures it, stores the blob and
// its thumbnail under the content key, and prepends a record to the category
// manifest. All metadata is computed before anything is written, so a file
// that cannot be decoded leaves the asset store and manifests untouched.
// Sprite bundles (.sprite2) are unpacked into a private scratch directory and
// their costumes and sounds are stored without manifest entries of their own.
package ingest
