package radio

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddrType is the kind of a BLE device address.
type AddrType uint8

const (
	AddrPublic AddrType = iota
	AddrRandom
)

func (t AddrType) String() string {
	switch t {
	case AddrPublic:
		return "public"
	case AddrRandom:
		return "random"
	default:
		return fmt.Sprintf("addr_type(%d)", uint8(t))
	}
}

// ParseAddrType accepts "public"/"random" or the numeric form "0"/"1".
func ParseAddrType(s string) (AddrType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public", "0":
		return AddrPublic, nil
	case "random", "1":
		return AddrRandom, nil
	default:
		return 0, fmt.Errorf("invalid address type %q (must be public or random)", s)
	}
}

// Address is a 48-bit device address in display order (most significant byte first).
type Address [6]byte

// ParseAddress parses "C4:7C:8D:6A:3A:27", "c4-7c-8d-6a-3a-27" or "c47c8d6a3a27".
func ParseAddress(s string) (Address, error) {
	var a Address
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 2*len(a) {
		return a, fmt.Errorf("invalid device address %q: expected 6 bytes", s)
	}
	if _, err := hex.Decode(a[:], []byte(clean)); err != nil {
		return a, fmt.Errorf("invalid device address %q: %w", s, err)
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants; it panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	var b strings.Builder
	for i, c := range a {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}

// PeerIdentity identifies a peripheral. Two identities are equal iff both the
// address type and the address match.
type PeerIdentity struct {
	AddrType AddrType
	Addr     Address
}

func (p PeerIdentity) String() string {
	return fmt.Sprintf("%s/%s", p.AddrType, p.Addr)
}
