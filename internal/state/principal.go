package state

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// PrincipalSize is the width of a principal identifier in bytes.
const PrincipalSize = 32

// Principal is an opaque identifier of an external actor (trader, admin,
// liquidator). Callers arrive already authenticated; the ledger only compares
// principals for equality and set membership.
type Principal [PrincipalSize]byte

// ZeroPrincipal is the unset principal.
var ZeroPrincipal Principal

// ParsePrincipal decodes a base58 string into a Principal.
func ParsePrincipal(s string) (Principal, error) {
	var p Principal
	raw, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("decode principal %q: %w", s, err)
	}
	if len(raw) != PrincipalSize {
		return p, fmt.Errorf("principal %q: want %d bytes, got %d", s, PrincipalSize, len(raw))
	}
	copy(p[:], raw)
	return p, nil
}

// MustParsePrincipal is ParsePrincipal that panics on error. Intended for tests
// and static configuration.
func MustParsePrincipal(s string) Principal {
	p, err := ParsePrincipal(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Principal) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether p is the unset principal.
func (p Principal) IsZero() bool {
	return p == ZeroPrincipal
}

func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := ParsePrincipal(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
