// Package assetstore keeps content-addressed blobs on disk.
//
// Each blob lives in a single file named by its storage key under the store
// root. Writes are once-by-key: a second Put of the same key is a no-op.
// Publishing goes through a temp file and rename so concurrent readers never
// observe a partial blob. Thumbnails use a second Store rooted at the
// thumbnail directory with the same keys.
package assetstore
