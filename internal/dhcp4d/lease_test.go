package dhcp4d

import (
	"testing"
	"time"

	"camprovision/internal/hwaddr"
	"camprovision/internal/ipaddr"
)

func testPool(t *testing.T, start, end string) *ipaddr.Pool {
	t.Helper()
	s, err := ipaddr.Parse(start)
	if err != nil {
		t.Fatal(err)
	}
	e, err := ipaddr.Parse(end)
	if err != nil {
		t.Fatal(err)
	}
	server, err := ipaddr.Parse("10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	pool, err := ipaddr.NewPool(s, e, server)
	if err != nil {
		t.Fatal(err)
	}
	return pool
}

func TestOfferRepeatReturnsSameAddress(t *testing.T) {
	pool := testPool(t, "10.0.0.10", "10.0.0.20")
	table := NewLeaseTable(pool)
	hw := hwaddr.MustParse("AA:BB:CC:DD:EE:01")
	now := time.Now()

	first, ok := table.Offer(hw, time.Hour, now)
	if !ok {
		t.Fatal("first Offer failed")
	}
	second, ok := table.Offer(hw, time.Hour, now.Add(time.Minute))
	if !ok {
		t.Fatal("repeat Offer failed")
	}
	if !first.Addr.Equal(second.Addr) {
		t.Errorf("repeat DISCOVER offered %v, want original %v", second.Addr, first.Addr)
	}
	if !second.Expiry.After(first.Expiry) {
		t.Errorf("repeat Offer did not refresh expiry: %v vs %v", second.Expiry, first.Expiry)
	}
	if second.Seq != first.Seq {
		t.Errorf("refresh changed Seq from %d to %d", first.Seq, second.Seq)
	}
}

func TestAtMostOneActiveLeasePerHW(t *testing.T) {
	pool := testPool(t, "10.0.0.10", "10.0.0.20")
	table := NewLeaseTable(pool)
	hw := hwaddr.MustParse("AA:BB:CC:DD:EE:01")
	now := time.Now()

	for i := 0; i < 5; i++ {
		if _, ok := table.Offer(hw, time.Hour, now); !ok {
			t.Fatalf("Offer %d failed", i)
		}
	}
	if got := len(table.Snapshot(now)); got != 1 {
		t.Errorf("Snapshot has %d leases for one hw, want 1", got)
	}
}

func TestExpiredLeaseReturnsAddressToPool(t *testing.T) {
	pool := testPool(t, "10.0.0.10", "10.0.0.10")
	table := NewLeaseTable(pool)
	hw := hwaddr.MustParse("AA:BB:CC:DD:EE:01")
	now := time.Now()

	l, ok := table.Offer(hw, time.Minute, now)
	if !ok {
		t.Fatal("Offer failed")
	}
	if pool.Len() != 0 {
		t.Fatalf("leased address still in pool, Len() = %d", pool.Len())
	}

	// Another device before expiry: the single-address pool is depleted.
	other := hwaddr.MustParse("AA:BB:CC:DD:EE:02")
	if _, ok := table.Offer(other, time.Minute, now); ok {
		t.Fatal("expected depleted pool to refuse a second lease")
	}

	// After expiry the address is reclaimed on the next lookup.
	later := now.Add(2 * time.Minute)
	if _, ok := table.Lookup(hw, later); ok {
		t.Fatal("expected lease to have expired")
	}
	if pool.Len() != 1 {
		t.Errorf("expired address not returned to pool, Len() = %d", pool.Len())
	}

	reoffered, ok := table.Offer(other, time.Minute, later)
	if !ok {
		t.Fatal("expected reclaimed address to be offerable")
	}
	if !reoffered.Addr.Equal(l.Addr) {
		t.Errorf("reclaimed offer = %v, want %v", reoffered.Addr, l.Addr)
	}
}

func TestConfirmRequiresMatchingAddress(t *testing.T) {
	pool := testPool(t, "10.0.0.10", "10.0.0.20")
	table := NewLeaseTable(pool)
	hw := hwaddr.MustParse("AA:BB:CC:DD:EE:01")
	now := time.Now()

	l, ok := table.Offer(hw, time.Hour, now)
	if !ok {
		t.Fatal("Offer failed")
	}

	wrong, _ := ipaddr.Parse("10.0.0.99")
	if table.Confirm(hw, wrong, time.Hour, now) {
		t.Error("Confirm accepted a REQUEST for an address the hw was never offered")
	}
	if !table.Confirm(hw, l.Addr, time.Hour, now) {
		t.Error("Confirm rejected a REQUEST for the offered address")
	}

	stranger := hwaddr.MustParse("AA:BB:CC:DD:EE:02")
	if table.Confirm(stranger, l.Addr, time.Hour, now) {
		t.Error("Confirm accepted a REQUEST from a hw with no lease")
	}
}

func TestSnapshotPreservesDiscoveryOrder(t *testing.T) {
	pool := testPool(t, "10.0.0.10", "10.0.0.20")
	table := NewLeaseTable(pool)
	now := time.Now()

	order := []string{"AA:BB:CC:DD:EE:03", "AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"}
	for _, s := range order {
		if _, ok := table.Offer(hwaddr.MustParse(s), time.Hour, now); !ok {
			t.Fatalf("Offer(%s) failed", s)
		}
	}

	// A renewal must not move an early device to the back of the line.
	if _, ok := table.Offer(hwaddr.MustParse(order[0]), time.Hour, now.Add(time.Second)); !ok {
		t.Fatal("renewal Offer failed")
	}

	snap := table.Snapshot(now.Add(2 * time.Second))
	if len(snap) != len(order) {
		t.Fatalf("Snapshot has %d leases, want %d", len(snap), len(order))
	}
	for i, s := range order {
		if snap[i].HW != hwaddr.MustParse(s) {
			t.Errorf("Snapshot[%d].HW = %v, want %v", i, snap[i].HW, s)
		}
	}
}
