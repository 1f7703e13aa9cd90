// Package identity mints the two kinds of names the service hands out:
// room identifiers (random 128-bit values, canonical lowercase text) and
// the anonymous handles peers go by inside a room.
package identity

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// HandlePrefix marks every server-assigned handle.
const HandlePrefix = "anonymous_"

const (
	handleLen      = 10
	handleAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewRoomID mints a fresh random room identifier.
func NewRoomID() uuid.UUID {
	return uuid.New()
}

// ParseRoomID parses a textual room identifier. The returned value renders
// in canonical lowercase form regardless of the input casing.
func ParseRoomID(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}

// NewHandle returns a fresh anonymous handle: the fixed prefix followed by
// ten random alphanumerics.
func NewHandle() string {
	buf := make([]byte, handleLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read cannot fail on supported platforms
		panic(err)
	}
	for i, b := range buf {
		buf[i] = handleAlphabet[int(b)%len(handleAlphabet)]
	}
	return HandlePrefix + string(buf)
}
