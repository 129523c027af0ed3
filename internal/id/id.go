package id

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Short generates a short random hex ID (16 characters).
func Short() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ulidEncoding is Crockford's Base32 (excludes I, L, O, U to avoid ambiguity).
const ulidEncoding = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	ulidMu      sync.Mutex
	ulidLastMs  int64
	ulidCounter uint16
)

// ULID generates a Universally Unique Lexicographically Sortable Identifier:
// 26 characters, 10 encoding a millisecond timestamp and 16 encoding 80 bits
// of randomness. IDs generated within the same millisecond stay unique via a
// monotonic counter mixed into the random component.
func ULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()

	now := time.Now().UnixMilli()
	if now == ulidLastMs {
		ulidCounter++
		if ulidCounter == 0 {
			// Counter wrapped; wait out the millisecond.
			for now == ulidLastMs {
				time.Sleep(time.Millisecond)
				now = time.Now().UnixMilli()
			}
			ulidLastMs = now
		}
	} else {
		ulidLastMs = now
		ulidCounter = 0
	}

	out := make([]byte, 26)

	ms := now
	for i := 9; i >= 0; i-- {
		out[i] = ulidEncoding[ms&0x1F]
		ms >>= 5
	}

	rnd := make([]byte, 10)
	_, _ = rand.Read(rnd)
	rnd[0] ^= byte(ulidCounter >> 8)
	rnd[1] ^= byte(ulidCounter)

	// Pack 80 random bits into 16 base32 characters.
	var acc uint32
	var bits uint
	pos := 10
	for _, b := range rnd {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[pos] = ulidEncoding[(acc>>bits)&0x1F]
			pos++
		}
	}

	return string(out)
}

// IsValidULID reports whether s is a well-formed ULID.
func IsValidULID(s string) bool {
	if len(s) != 26 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if decodeULIDChar(s[i]) < 0 {
			return false
		}
	}
	return true
}

// ULIDTime extracts the embedded timestamp from a ULID.
// Returns the zero time for malformed input.
func ULIDTime(s string) time.Time {
	if !IsValidULID(s) {
		return time.Time{}
	}
	var ms int64
	for i := 0; i < 10; i++ {
		ms = ms<<5 | int64(decodeULIDChar(s[i]))
	}
	return time.UnixMilli(ms)
}

func decodeULIDChar(c byte) int {
	for i := 0; i < len(ulidEncoding); i++ {
		if ulidEncoding[i] == c {
			return i
		}
	}
	return -1
}
