// Package id generates prefixed, URL-safe identifiers.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes used across the server. Keeping them here makes ids greppable in logs.
const (
	PrefixConnection = "conn"
	PrefixToken      = "tok"
)

// Generate creates a prefixed NanoID, e.g. "conn-V1StGXR8_Z5jdHi6B-myT".
// It fails only when the system entropy source fails.
func Generate(prefix string) (string, error) {
	nid, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + nid, nil
}

// MustGenerate is like Generate but panics on failure.
// Use it only where a failure should crash the process.
func MustGenerate(prefix string) string {
	v, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return v
}
