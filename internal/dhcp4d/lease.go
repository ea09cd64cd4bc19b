package dhcp4d

import (
	"sort"
	"sync"
	"time"

	"camprovision/internal/hwaddr"
	"camprovision/internal/ipaddr"
)

// Lease binds a hardware address to the address it was handed and a
// monotonic expiry. A lease is active when now < expiry.
// Seq is the table's insertion order for this hardware address, stamped
// once when the lease is first created and left untouched by later
// refreshes, so a reader can recover discovery order even though leases
// live in a map keyed by hardware address.
type Lease struct {
	HW     hwaddr.HardwareAddress
	Addr   ipaddr.Address
	Expiry time.Time
	Seq    uint64
}

// Active reports whether the lease has not yet expired, evaluated against
// the monotonic clock reading `now`.
func (l Lease) Active(now time.Time) bool {
	return now.Before(l.Expiry)
}

// LeaseTable maps hardware address to its single active lease. One
// mutex guards the table so the server loop's mutations and a
// concurrent reader's snapshot never race; the pool is mutated under
// the same lock so a lease and its address move together.
type LeaseTable struct {
	mu      sync.Mutex
	leases  map[hwaddr.HardwareAddress]Lease
	pool    *ipaddr.Pool
	nextSeq uint64
}

// NewLeaseTable builds an empty table backed by the given pool.
func NewLeaseTable(pool *ipaddr.Pool) *LeaseTable {
	return &LeaseTable{
		leases: make(map[hwaddr.HardwareAddress]Lease),
		pool:   pool,
	}
}

// Lookup returns the active lease for hw, if any. Expired leases are
// reclaimed (their address returned to the pool) lazily here, as a side
// effect of the next lookup, rather than on a timer.
func (t *LeaseTable) Lookup(hw hwaddr.HardwareAddress, now time.Time) (Lease, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupLocked(hw, now)
}

func (t *LeaseTable) lookupLocked(hw hwaddr.HardwareAddress, now time.Time) (Lease, bool) {
	l, ok := t.leases[hw]
	if !ok {
		return Lease{}, false
	}
	if !l.Active(now) {
		delete(t.leases, hw)
		t.pool.Release(l.Addr)
		return Lease{}, false
	}
	return l, true
}

// Offer returns hw's existing active lease, refreshing its expiry, or draws
// a new address from the pool and records a fresh lease. It returns the
// zero Lease and ok=false when the pool is depleted.
func (t *LeaseTable) Offer(hw hwaddr.HardwareAddress, duration time.Duration, now time.Time) (Lease, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.lookupLocked(hw, now); ok {
		l.Expiry = now.Add(duration)
		t.leases[hw] = l
		return l, true
	}

	addr := t.pool.Acquire()
	if !addr.Valid() {
		return Lease{}, false
	}
	t.nextSeq++
	l := Lease{HW: hw, Addr: addr, Expiry: now.Add(duration), Seq: t.nextSeq}
	t.leases[hw] = l
	return l, true
}

// Confirm refreshes hw's lease expiry on a matching REQUEST for addr. It
// returns false if hw has no lease, or its leased address doesn't match
// addr; the caller drops the REQUEST in that case.
func (t *LeaseTable) Confirm(hw hwaddr.HardwareAddress, addr ipaddr.Address, duration time.Duration, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.lookupLocked(hw, now)
	if !ok || !l.Addr.Equal(addr) {
		return false
	}
	l.Expiry = now.Add(duration)
	t.leases[hw] = l
	return true
}

// Snapshot returns a copy of all active leases, ordered by discovery
// sequence (oldest first) rather than by map iteration, so a caller that
// needs discovery order - the positional planner, via the discovery
// scan - doesn't have to recover it from a structure that doesn't carry
// it. Suitable for a concurrent reader (e.g. the discovery prober) since
// it copies out under the lock and returns.
func (t *LeaseTable) Snapshot(now time.Time) []Lease {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Lease, 0, len(t.leases))
	for _, l := range t.leases {
		if l.Active(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
