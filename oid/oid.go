// Package oid provides content-addressed object identifiers.
//
// An identifier couples a cryptographic digest of the object's uncompressed
// content with a one-letter suffix that distinguishes object classes
// (regular data, catalogs, certificates). Identifiers are immutable values;
// the zero value is the "unset" sentinel.
package oid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Suffix distinguishes object classes in the cache namespace.
type Suffix byte

// Object class suffixes. SuffixNone marks regular data objects.
const (
	SuffixNone        Suffix = 0
	SuffixCatalog     Suffix = 'C'
	SuffixHistory     Suffix = 'H'
	SuffixPartial     Suffix = 'P'
	SuffixCertificate Suffix = 'X'
	SuffixMetainfo    Suffix = 'M'
)

// ErrInvalidHash is returned when a hash string cannot be parsed.
var ErrInvalidHash = errors.New("invalid object hash")

// Hash identifies an immutable blob by content digest plus class suffix.
//
// Hash is comparable; two hashes are equal iff algorithm, digest, and
// suffix all match. The suffix participates in the cache path but not in
// content verification.
type Hash struct {
	Digest digest.Digest
	Suffix Suffix
}

// New returns a Hash for an already-validated digest.
func New(d digest.Digest, suffix Suffix) Hash {
	return Hash{Digest: d, Suffix: suffix}
}

// FromBytes hashes content with the canonical algorithm (SHA256).
func FromBytes(content []byte, suffix Suffix) Hash {
	return Hash{Digest: digest.FromBytes(content), Suffix: suffix}
}

// Parse parses a string of the form "sha256:hex" with an optional
// trailing suffix letter, e.g. "sha256:ab12...C".
func Parse(s string) (Hash, error) {
	suffix := SuffixNone
	if n := len(s); n > 0 {
		switch Suffix(s[n-1]) {
		case SuffixCatalog, SuffixHistory, SuffixPartial, SuffixCertificate, SuffixMetainfo:
			suffix = Suffix(s[n-1])
			s = s[:n-1]
		}
	}
	d, err := digest.Parse(s)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %q: %v", ErrInvalidHash, s, err)
	}
	return Hash{Digest: d, Suffix: suffix}, nil
}

// IsNull reports whether h is the unset sentinel.
func (h Hash) IsNull() bool {
	return h.Digest == ""
}

// Algorithm returns the digest algorithm, or the empty algorithm for the
// null hash.
func (h Hash) Algorithm() digest.Algorithm {
	if h.IsNull() {
		return ""
	}
	return h.Digest.Algorithm()
}

// Hex returns the hexadecimal digest without the algorithm prefix.
func (h Hash) Hex() string {
	if h.IsNull() {
		return ""
	}
	return h.Digest.Encoded()
}

// String renders the hash as "alg:hex" plus the suffix letter, if any.
func (h Hash) String() string {
	if h.IsNull() {
		return "(null)"
	}
	if h.Suffix == SuffixNone {
		return string(h.Digest)
	}
	return string(h.Digest) + string(rune(h.Suffix))
}

// CachePath returns the canonical relative path of the object under a
// cache or repository root: "data/" plus a two-character directory prefix,
// the digest remainder, and the suffix letter.
func (h Hash) CachePath() string {
	hex := h.Hex()
	var b strings.Builder
	b.Grow(len("data/") + len(hex) + 2)
	b.WriteString("data/")
	b.WriteString(hex[:2])
	b.WriteByte('/')
	b.WriteString(hex[2:])
	if h.Suffix != SuffixNone {
		b.WriteByte(byte(h.Suffix))
	}
	return b.String()
}

// Compare orders hashes structurally: by algorithm, then digest, then
// suffix. The null hash orders first.
func (h Hash) Compare(other Hash) int {
	if c := strings.Compare(string(h.Digest), string(other.Digest)); c != 0 {
		return c
	}
	switch {
	case h.Suffix < other.Suffix:
		return -1
	case h.Suffix > other.Suffix:
		return 1
	}
	return 0
}

// Verifier returns a digest verifier for the expected content of h.
// Bytes of the uncompressed object are written to the verifier; Verified
// reports whether they matched.
func (h Hash) Verifier() digest.Verifier {
	return h.Digest.Verifier()
}
