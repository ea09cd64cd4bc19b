// Package ipaddr provides the Address value type and the randomized
// address pool the DHCP server draws leases from.
package ipaddr

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
)

// Address is an IPv4 address available in both dotted and 32-bit forms:
// pool range math uses the latter, display and packet emission the former.
type Address struct {
	ip net.IP
}

// New wraps a net.IP as an Address. It returns an error if ip isn't a valid
// IPv4 address.
func New(ip net.IP) (Address, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Address{}, fmt.Errorf("ipaddr: %v is not an IPv4 address", ip)
	}
	return Address{ip: v4}, nil
}

// Parse parses a dotted-decimal string into an Address.
func Parse(s string) (Address, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return Address{}, fmt.Errorf("ipaddr: %q is not a valid IP address", s)
	}
	return New(ip)
}

// IP returns the net.IP form.
func (a Address) IP() net.IP { return a.ip }

// String returns the dotted-decimal form.
func (a Address) String() string {
	if a.ip == nil {
		return "<nil>"
	}
	return a.ip.String()
}

// Uint32 returns the 32-bit big-endian integer form, used for pool range
// math and as a map key.
func (a Address) Uint32() uint32 {
	if a.ip == nil {
		return 0
	}
	return binary.BigEndian.Uint32(a.ip)
}

// FromUint32 builds an Address from its 32-bit form.
func FromUint32(v uint32) Address {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Address{ip: net.IP(b)}
}

// Equal reports whether two addresses are the same.
func (a Address) Equal(o Address) bool {
	return a.ip.Equal(o.ip)
}

// Valid reports whether a has been initialized.
func (a Address) Valid() bool { return a.ip != nil }

// ErrBadRange is returned when a pool's start address is after its end.
var ErrBadRange = fmt.Errorf("ipaddr: bad range: start is after end")

// Pool is a finite set of assignable addresses drawn from [start, end]
// inclusive, with the server's own address excluded. Acquisition order
// is randomized so that two devices racing on the same source address
// don't keep colliding on the same offer.
type Pool struct {
	free map[uint32]bool
	// order lists every address in the range in ascending order: Acquire
	// scans it circularly from a random offset, and Release uses it to
	// tell whether an address belongs to the pool.
	order []uint32
}

// NewPool builds a Pool covering [start, end] inclusive, minus server.
func NewPool(start, end, server Address) (*Pool, error) {
	if start.Uint32() > end.Uint32() {
		return nil, ErrBadRange
	}

	p := &Pool{free: make(map[uint32]bool)}
	for v := start.Uint32(); v <= end.Uint32(); v++ {
		if v == server.Uint32() {
			continue
		}
		p.free[v] = true
		p.order = append(p.order, v)
		if v == end.Uint32() {
			break // guard against uint32 wraparound when end == MaxUint32
		}
	}
	return p, nil
}

// Acquire draws an address at random from the free set, or returns the zero
// Address if the pool is depleted. Depletion is an expected condition, not
// an error.
func (p *Pool) Acquire() Address {
	if len(p.order) == 0 {
		return Address{}
	}

	// Scan from a random starting offset for the first still-free slot.
	start := rand.Intn(len(p.order))
	for i := 0; i < len(p.order); i++ {
		v := p.order[(start+i)%len(p.order)]
		if p.free[v] {
			p.free[v] = false
			return FromUint32(v)
		}
	}
	return Address{}
}

// Release returns an address to the pool. Releasing an address that wasn't
// drawn from this pool's range is a no-op.
func (p *Pool) Release(a Address) {
	v := a.Uint32()
	for _, o := range p.order {
		if o == v {
			p.free[v] = true
			return
		}
	}
}

// Len reports the number of addresses currently available.
func (p *Pool) Len() int {
	n := 0
	for _, free := range p.free {
		if free {
			n++
		}
	}
	return n
}
