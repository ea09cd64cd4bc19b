// Package hwaddr canonicalizes hardware addresses: uppercase hex, no
// separators, independent of the delimiter style a caller handed us, so
// the same device keys the same map entry no matter which surface
// reported its address.
package hwaddr

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HardwareAddress is a canonical six-octet MAC address.
type HardwareAddress [6]byte

// Parse accepts colon-, hyphen-, dot-, or delimiter-free hex and returns the
// canonical form. Case is ignored on input.
func Parse(s string) (HardwareAddress, error) {
	var hw HardwareAddress

	stripped := strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(s)
	if len(stripped) != 12 {
		return hw, fmt.Errorf("hwaddr: %q is not a 6-octet address", s)
	}

	raw, err := hex.DecodeString(stripped)
	if err != nil {
		return hw, fmt.Errorf("hwaddr: %q: %w", s, err)
	}
	copy(hw[:], raw)
	return hw, nil
}

// MustParse is Parse that panics on error, for use with literal test data.
func MustParse(s string) HardwareAddress {
	hw, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return hw
}

// String renders the canonical form: uppercase hex, no separators.
func (hw HardwareAddress) String() string {
	return strings.ToUpper(hex.EncodeToString(hw[:]))
}

// Bytes returns the address's six octets.
func (hw HardwareAddress) Bytes() []byte {
	b := make([]byte, 6)
	copy(b, hw[:])
	return b
}

// Zero reports whether this is the zero address.
func (hw HardwareAddress) Zero() bool {
	return hw == HardwareAddress{}
}
