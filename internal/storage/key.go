package storage

import (
	"errors"
	"strings"

	"github.com/docsync/docsync/internal/models"
)

// Separator joins key segments into the flat string keys the backend
// indexes. 0x1F (unit separator) is not printable, so it cannot occur in a
// document id, a change hash or any other segment the sync engine produces.
// Everything nested under a key sorts inside [key+0x1F, key+0x20), which
// makes prefix scans a plain string-range query.
const Separator = "\x1f"

// separator + 1; exclusive upper bound for prefix ranges
const rangeEnd = "\x20"

var (
	ErrEmptyKey       = errors.New("empty storage key")
	ErrInvalidSegment = errors.New("key segment contains separator byte")
)

// Key is an ordered sequence of segments, e.g. [docID, "snapshot", hash].
// The first segment is always the owning document id.
type Key []string

// Encode joins the segments into the flat backend key.
func (k Key) Encode() (string, error) {
	if len(k) == 0 {
		return "", ErrEmptyKey
	}
	for _, seg := range k {
		if strings.Contains(seg, Separator) {
			return "", ErrInvalidSegment
		}
	}
	return strings.Join(k, Separator), nil
}

// DecodeKey splits a flat backend key back into segments.
func DecodeKey(s string) Key {
	return Key(strings.Split(s, Separator))
}

// DocumentID returns the first segment.
func (k Key) DocumentID() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// ephemeral reports whether the key belongs to a document that must never
// reach durable storage.
func (k Key) ephemeral() bool {
	return models.IsEphemeralID(k.DocumentID())
}

// prefixRange returns the half-open range [lo, hi) containing every key
// strictly nested under k (the exact key itself is not in the range).
func prefixRange(encoded string) (lo, hi string) {
	return encoded + Separator, encoded + rangeEnd
}
