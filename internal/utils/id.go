package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns a unique handle for one live connection.
func NewSessionID() string {
	return uuid.NewString()
}

// NewNonce returns a short opaque token used to correlate an in-flight
// message with its authoritative broadcast.
func NewNonce() string {
	const size = 8

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// NewRoomID returns a short shareable room token drawn from a high-entropy
// source. 10 base32 characters give 50 bits, enough that collisions are
// negligible for the lifetime of a process.
func NewRoomID() string {
	const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	const size = 10

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return strings.ToUpper(strconv.FormatInt(time.Now().UnixNano(), 36))
	}

	var b strings.Builder
	b.Grow(size)
	for _, c := range buf {
		b.WriteByte(alphabet[int(c)%len(alphabet)])
	}
	return b.String()
}
