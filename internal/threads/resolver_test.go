package threads

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"testing"
)

var hexKey = regexp.MustCompile(`^[0-9a-f]{10}$`)

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name      string
		hint      string
		want      string
		generated bool
	}{
		{name: "hint used verbatim", hint: "abc123", want: "abc123"},
		{name: "hint with spaces kept as is", hint: " Mixed Case ", want: " Mixed Case "},
		{name: "empty hint generates", hint: "", generated: true},
		{name: "blank hint generates", hint: " \t\n", generated: true},
	}

	r := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.hint)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if tt.generated {
				if !hexKey.MatchString(got) {
					t.Errorf("generated key %q is not %d hex chars", got, KeyLength)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolver_GeneratedKeysDiffer(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key, err := ResolveKey("")
		if err != nil {
			t.Fatalf("ResolveKey() error = %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key %q after %d draws", key, i)
		}
		seen[key] = true
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestResolver_EntropyFailure(t *testing.T) {
	r := &Resolver{random: failingReader{}}
	if _, err := r.Resolve(""); err == nil {
		t.Fatal("expected error when entropy source fails")
	}
}

func TestResolver_HashesFullSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x5a}, seedSize)
	source := bytes.NewReader(append(append([]byte(nil), seed...), 0xff))
	r := &Resolver{random: source}

	got, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	sum := sha256.Sum256(seed)
	if want := hex.EncodeToString(sum[:])[:KeyLength]; got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
	if source.Len() != 1 {
		t.Errorf("consumed %d bytes, want %d", seedSize+1-source.Len(), seedSize)
	}
}

func TestResolver_ShortEntropy(t *testing.T) {
	r := &Resolver{random: bytes.NewReader(make([]byte, seedSize-1))}
	if _, err := r.Resolve(""); err == nil {
		t.Fatal("expected error when entropy source runs short")
	}
}
