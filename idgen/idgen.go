// Package idgen generates identifiers for snapshots, subscriptions and
// session tokens.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of time-sortable RFC 9562 UUID v7 strings.
// Snapshot and subscription rows use it so that rowid order and ID order agree.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

var tokenEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Token returns a Generator of opaque random tokens carrying n bytes of
// entropy. Used for client session tokens.
func Token(n int) Generator {
	if n <= 0 {
		n = 20
	}
	return func() string {
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		return tokenEncoding.EncodeToString(buf)
	}
}

// Prefixed prepends a fixed prefix to every ID of gen ("snap_", "sub_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the generator used by New.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID, optionally behind a prefix produced by Prefixed.
func Parse(s, prefix string) (string, error) {
	raw, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return "", fmt.Errorf("idgen: missing prefix %q in %q", prefix, s)
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return prefix + u.String(), nil
}
