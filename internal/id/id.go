package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// crockford is the ULID alphabet (Crockford's Base32 without I, L, O, U).
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ULIDLength is the length of an encoded ULID.
const ULIDLength = 26

// monotonic keeps ULIDs generated within the same millisecond strictly
// increasing by incrementing the previous random component.
type monotonic struct {
	mu     sync.Mutex
	lastMs int64
	last   [10]byte
}

var gen monotonic

// Record returns a new ULID for a capture record.
func Record() string {
	return gen.next(time.Now().UnixMilli())
}

func (m *monotonic) next(ms int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ms <= m.lastMs {
		ms = m.lastMs
		increment(&m.last)
	} else {
		m.lastMs = ms
		_, _ = rand.Read(m.last[:])
		// Leave headroom so increments within one millisecond never wrap.
		m.last[0] &= 0x7f
	}
	return encode(ms, m.last)
}

func increment(b *[10]byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

// encode writes 48 bits of timestamp and 80 bits of entropy as 26 base32 chars.
func encode(ms int64, entropy [10]byte) string {
	out := make([]byte, ULIDLength)
	for i := 9; i >= 0; i-- {
		out[i] = crockford[ms&0x1f]
		ms >>= 5
	}
	// 80 bits of entropy, consumed 5 bits at a time from the most significant end.
	var acc uint64
	bits := 0
	pos := 10
	for _, b := range entropy {
		acc = acc<<8 | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[pos] = crockford[(acc>>uint(bits))&0x1f]
			pos++
		}
	}
	return string(out)
}

// Time extracts the creation time encoded in a ULID.
func Time(ulid string) (time.Time, error) {
	if len(ulid) != ULIDLength {
		return time.Time{}, fmt.Errorf("invalid ULID length %d", len(ulid))
	}
	var ms int64
	for i := 0; i < 10; i++ {
		v := decodeChar(ulid[i])
		if v < 0 {
			return time.Time{}, fmt.Errorf("invalid ULID character %q at position %d", ulid[i], i)
		}
		ms = ms<<5 | int64(v)
	}
	return time.UnixMilli(ms), nil
}

// IsULID reports whether s is a well-formed ULID.
func IsULID(s string) bool {
	if len(s) != ULIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if decodeChar(s[i]) < 0 {
			return false
		}
	}
	return true
}

func decodeChar(c byte) int {
	for i := 0; i < len(crockford); i++ {
		if crockford[i] == c {
			return i
		}
	}
	return -1
}

// Request returns a UUID v4 used as the framework-level request id.
func Request() string {
	return uuid.NewString()
}

// Prefixed returns prefix + "_" + 12 random hex characters.
func Prefixed(prefix string) string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}
