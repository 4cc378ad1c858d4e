package threads

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// KeyLength is the number of hex characters in a generated thread key.
const KeyLength = 10

// seedSize is the number of random bytes hashed into a generated key.
const seedSize = 32

// Resolver maps correlation hints to thread keys.
type Resolver struct {
	random io.Reader
}

// NewResolver creates a resolver seeded from crypto/rand.
func NewResolver() *Resolver {
	return &Resolver{random: rand.Reader}
}

// Resolve returns hint verbatim when it is non-blank, otherwise a freshly
// generated key.
func (r *Resolver) Resolve(hint string) (string, error) {
	if strings.TrimSpace(hint) != "" {
		return hint, nil
	}
	return r.generate()
}

func (r *Resolver) generate() (string, error) {
	source := r.random
	if source == nil {
		source = rand.Reader
	}
	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(source, seed); err != nil {
		return "", fmt.Errorf("failed to generate thread seed: %w", err)
	}
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:])[:KeyLength], nil
}

// ResolveKey is a convenience wrapper around a default Resolver.
func ResolveKey(hint string) (string, error) {
	return NewResolver().Resolve(hint)
}
