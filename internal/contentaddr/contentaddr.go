package contentaddr

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrInvalidKey reports a storage key that is not "<lowercase hex><.ext>".
var ErrInvalidKey = errors.New("contentaddr: invalid storage key")

// Algorithm names a supported digest.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	BLAKE3 Algorithm = "blake3"
)

// blake3Size truncates BLAKE3 output to 128 bits so keys keep the same shape
// as MD5 keys.
const blake3Size = 16

// Hasher computes content digests. Implementations are pure and safe for
// concurrent use.
type Hasher struct {
	algo Algorithm
}

// NewHasher returns a hasher for the named algorithm.
func NewHasher(name string) (Hasher, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", MD5:
		return Hasher{algo: MD5}, nil
	case BLAKE3:
		return Hasher{algo: BLAKE3}, nil
	default:
		return Hasher{}, fmt.Errorf("contentaddr: unsupported algorithm %q", name)
	}
}

// Algorithm reports which digest the hasher computes.
func (h Hasher) Algorithm() Algorithm {
	if h.algo == "" {
		return MD5
	}
	return h.algo
}

// Sum returns the lowercase hex digest of data.
func (h Hasher) Sum(data []byte) string {
	switch h.Algorithm() {
	case BLAKE3:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:blake3Size])
	default:
		sum := md5.Sum(data)
		return hex.EncodeToString(sum[:])
	}
}

// KeyFor hashes data and pairs the digest with ext.
func (h Hasher) KeyFor(data []byte, ext string) Key {
	return Key{Hash: h.Sum(data), Ext: normalizeExt(ext)}
}

// Verify reports whether data hashes to key.Hash.
func (h Hasher) Verify(key Key, data []byte) bool {
	return h.Sum(data) == key.Hash
}

// Key is the storage identity of a blob.
type Key struct {
	Hash string
	Ext  string
}

// String returns the "<hash><ext>" form used on disk and on the wire.
func (k Key) String() string {
	return k.Hash + k.Ext
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k.Hash == "" && k.Ext == ""
}

// ParseKey splits "<hash><ext>" into its parts. The hash must be non-empty
// lowercase hexadecimal and the extension must be present.
func ParseKey(value string) (Key, error) {
	value = strings.TrimSpace(value)
	dot := strings.IndexByte(value, '.')
	if dot <= 0 || dot == len(value)-1 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, value)
	}
	hash := value[:dot]
	ext := value[dot:]
	if !isLowerHex(hash) {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, value)
	}
	if strings.ContainsAny(ext, `/\`) {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, value)
	}
	return Key{Hash: hash, Ext: strings.ToLower(ext)}, nil
}

// ExtOf returns the lowercased extension of a file name.
func ExtOf(name string) string {
	return normalizeExt(filepath.Ext(name))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func isLowerHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
