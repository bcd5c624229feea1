package types

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

// ULID is a 128-bit, time-ordered, lexicographically sortable identifier:
// a 48-bit millisecond timestamp followed by 80 random bits. Lineage event
// IDs are ULIDs so that sorting by ID reproduces generation order, which is
// what gives event listings their deterministic timestamp tie-break.
type ULID [16]byte

var (
	// ErrInvalidULIDLength is returned when a ULID string or byte slice has
	// the wrong length.
	ErrInvalidULIDLength = errors.New("invalid ULID length")

	// ErrInvalidULIDCharacter is returned when a ULID string contains a
	// character outside the Crockford Base32 alphabet.
	ErrInvalidULIDCharacter = errors.New("invalid ULID character")
)

// Crockford's Base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ULIDGenerator produces ULIDs that are strictly increasing, including
// within a single millisecond.
type ULIDGenerator struct {
	mu            sync.Mutex
	lastTimestamp uint64
	lastRandom    [10]byte
}

// NewULIDGenerator creates a new ULID generator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{}
}

// Generate creates a new ULID at the current time.
func (g *ULIDGenerator) Generate() (ULID, error) {
	return g.GenerateWithTime(time.Now())
}

// GenerateWithTime creates a new ULID at the given time. Repeated calls
// within the same millisecond increment the random component so ordering
// holds even under timestamp collisions.
func (g *ULIDGenerator) GenerateWithTime(t time.Time) (ULID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := uint64(t.UnixMilli())

	var u ULID
	for i := 0; i < 6; i++ {
		u[i] = byte(timestamp >> (40 - 8*i))
	}

	if timestamp == g.lastTimestamp {
		// Same millisecond: bump the random component as a big-endian
		// 80-bit counter.
		for i := 9; i >= 0; i-- {
			g.lastRandom[i]++
			if g.lastRandom[i] != 0 {
				break
			}
		}
	} else {
		if _, err := rand.Read(g.lastRandom[:]); err != nil {
			return ULID{}, err
		}
		g.lastTimestamp = timestamp
	}
	copy(u[6:], g.lastRandom[:])

	return u, nil
}

// Bytes returns the ULID as a byte slice.
func (u ULID) Bytes() []byte {
	return u[:]
}

// Timestamp returns the timestamp component as Unix milliseconds.
func (u ULID) Timestamp() uint64 {
	var ts uint64
	for i := 0; i < 6; i++ {
		ts = ts<<8 | uint64(u[i])
	}
	return ts
}

// Time returns the timestamp component as a time.Time.
func (u ULID) Time() time.Time {
	return time.UnixMilli(int64(u.Timestamp()))
}

// String encodes the ULID as a 26-character Crockford Base32 string.
// The 128 bits are left-padded with two zero bits so they divide evenly
// into 26 five-bit groups.
func (u ULID) String() string {
	var buf [26]byte
	var acc uint64
	bits := 2 // the two padding bits
	out := 0
	for i := 0; i < 16; i++ {
		acc = acc<<8 | uint64(u[i])
		bits += 8
		for bits >= 5 {
			buf[out] = crockfordBase32[(acc>>(bits-5))&31]
			out++
			bits -= 5
		}
	}
	return string(buf[:])
}

// Compare compares two ULIDs lexicographically.
// Returns -1 if u < other, 0 if equal, 1 if u > other.
func (u ULID) Compare(other ULID) int {
	for i := 0; i < 16; i++ {
		if u[i] < other[i] {
			return -1
		}
		if u[i] > other[i] {
			return 1
		}
	}
	return 0
}

// ParseULID parses a 26-character Crockford Base32 string into a ULID.
func ParseULID(s string) (ULID, error) {
	if len(s) != 26 {
		return ULID{}, ErrInvalidULIDLength
	}

	var dec [26]byte
	for i := 0; i < 26; i++ {
		v := decodeBase32(s[i])
		if v == 0xFF {
			return ULID{}, ErrInvalidULIDCharacter
		}
		dec[i] = v
	}

	// Output byte i occupies stream bits [i*8+2, i*8+10), where the stream
	// is the 130-bit concatenation of the decoded 5-bit groups.
	var u ULID
	for i := 0; i < 16; i++ {
		bitPos := i*8 + 2
		group := bitPos / 5
		off := bitPos % 5
		v := uint16(dec[group])<<10 | uint16(dec[group+1])<<5
		if group+2 < 26 {
			v |= uint16(dec[group+2])
		}
		u[i] = byte(v >> (7 - off))
	}
	return u, nil
}

// decodeBase32 decodes one Crockford Base32 character, or 0xFF if invalid.
func decodeBase32(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'H':
		return c - 'A' + 10
	case c >= 'a' && c <= 'h':
		return c - 'a' + 10
	case c == 'J' || c == 'K':
		return c - 'J' + 18
	case c == 'j' || c == 'k':
		return c - 'j' + 18
	case c == 'M' || c == 'N':
		return c - 'M' + 20
	case c == 'm' || c == 'n':
		return c - 'm' + 20
	case c >= 'P' && c <= 'T':
		return c - 'P' + 22
	case c >= 'p' && c <= 't':
		return c - 'p' + 22
	case c >= 'V' && c <= 'Z':
		return c - 'V' + 27
	case c >= 'v' && c <= 'z':
		return c - 'v' + 27
	default:
		return 0xFF
	}
}
