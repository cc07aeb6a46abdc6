// Package pubkey validates the on-chain public keys carried by emission
// checkpoints (crunch account, compute and data providers).
package pubkey

import (
	"bytes"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Validate checks that s is a base58-encoded 32-byte ed25519 point. Returns
// the decoded bytes on success.
func Validate(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty pubkey")
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode pubkey: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("pubkey is %d bytes, want 32", len(raw))
	}

	point, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("pubkey is not a valid curve point: %w", err)
	}
	// SetBytes tolerates unreduced field elements; a canonical encoding
	// round-trips to the same bytes.
	if !bytes.Equal(point.Bytes(), raw) {
		return nil, fmt.Errorf("pubkey encoding is not canonical")
	}
	return raw, nil
}

// IsValid reports whether s is a well-formed on-curve pubkey.
func IsValid(s string) bool {
	_, err := Validate(s)
	return err == nil
}
