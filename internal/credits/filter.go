package credits

import (
	"encoding/base64"
	"encoding/binary"
)

// The grant filter is a fixed-size Bloom filter over grant ids. Filter bits
// are derived from a keyed digest so a client cannot precompute collisions.
// A set bit is never cleared; the filter can only accumulate grants.
const (
	filterBits   = 2048
	filterBytes  = filterBits / 8
	filterHashes = 4
)

func emptyFilter() []byte {
	return make([]byte, filterBytes)
}

// decodeFilter accepts the serialized filter from a cookie. Anything that is
// not exactly filterBytes of valid base64url comes back as an empty filter.
func decodeFilter(encoded string) []byte {
	if encoded == "" {
		return emptyFilter()
	}
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(decoded) != filterBytes {
		return emptyFilter()
	}
	return decoded
}

// encodeFilter returns "" for an all-zero filter so an untouched ledger never
// pays the cookie bytes for it.
func encodeFilter(filter []byte) string {
	if len(filter) != filterBytes {
		return ""
	}
	empty := true
	for _, b := range filter {
		if b != 0 {
			empty = false
			break
		}
	}
	if empty {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(filter)
}

// filterIndices derives the filter slice positions for a grant id from one
// HMAC-SHA256 digest: four big-endian uint32 windows, each reduced mod the
// bit count.
func (l *Ledger) filterIndices(grantID string) [filterHashes]int {
	digest := l.codec.HMACDigest(grantID)
	var indices [filterHashes]int
	for i := 0; i < filterHashes; i++ {
		indices[i] = int(binary.BigEndian.Uint32(digest[i*4:]) % filterBits)
	}
	return indices
}

func (l *Ledger) filterContains(filter []byte, grantID string) bool {
	for _, idx := range l.filterIndices(grantID) {
		if filter[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

func (l *Ledger) filterAdd(filter []byte, grantID string) []byte {
	next := emptyFilter()
	if len(filter) == filterBytes {
		copy(next, filter)
	}
	for _, idx := range l.filterIndices(grantID) {
		next[idx/8] |= 1 << (idx % 8)
	}
	return next
}
