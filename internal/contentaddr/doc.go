// Package contentaddr derives storage identities from blob bytes.
//
// A Key pairs the lowercase hex digest of a blob with the original file
// extension; its string form ("<hash><ext>") is the value manifests carry in
// their md5 field and the file name blobs are stored under. The default
// algorithm is MD5 so existing libraries keep their keys; BLAKE3 is available
// for new libraries that want a stronger digest.
package contentaddr
