// Package plan loads an operator-supplied CSV of target addresses and
// turns it into an AssignmentPlan, the sum type the orchestrator
// consults to pick each device's final static address. The reader
// leaves FieldsPerRecord loose so header variants can be tolerated
// before any row is parsed.
package plan

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"camprovision/internal/hwaddr"
	"camprovision/internal/ipaddr"
)

// ErrDuplicate is returned when the same hardware address or the same IP
// address appears on more than one row.
var ErrDuplicate = fmt.Errorf("plan: duplicate entry")

// ErrNoHeader is returned when the CSV has no row, or its header names
// none of the recognized column spellings.
var ErrNoHeader = fmt.Errorf("plan: missing or unrecognized header row")

// ErrPlanExhausted is returned by a Positional plan once every address has
// been handed out.
var ErrPlanExhausted = fmt.Errorf("plan: no addresses remain")

// ErrNoMatch is returned by a Keyed plan when a device's hardware address
// has no corresponding row.
var ErrNoMatch = fmt.Errorf("plan: hardware address not present in plan")

// AssignmentPlan is either a flat ordered list of
// addresses handed out one per device in discovery order, or a table
// keyed by hardware address. Next is safe to call from multiple
// goroutines, but a Positional plan's addresses must still go out in
// discovery order; a concurrent caller (orchestrator.Run)
// satisfies that by calling Next from its single dispatch loop rather
// than from per-device worker goroutines, making this mutex a backstop
// rather than the sole ordering guarantee.
type AssignmentPlan struct {
	mu         sync.Mutex
	positional []ipaddr.Address
	keyed      map[hwaddr.HardwareAddress]ipaddr.Address
	nextIdx    int
}

// Positional builds an AssignmentPlan that hands addresses out in order.
func Positional(addrs []ipaddr.Address) *AssignmentPlan {
	return &AssignmentPlan{positional: addrs}
}

// Keyed builds an AssignmentPlan that looks addresses up by hardware
// address.
func Keyed(table map[hwaddr.HardwareAddress]ipaddr.Address) *AssignmentPlan {
	return &AssignmentPlan{keyed: table}
}

// IsKeyed reports whether p is a Keyed plan, as opposed to Positional.
func (p *AssignmentPlan) IsKeyed() bool {
	return p.keyed != nil
}

// Next returns the next address for hw. Positional plans ignore hw and
// advance a cursor; Keyed plans look hw up directly.
func (p *AssignmentPlan) Next(hw hwaddr.HardwareAddress) (ipaddr.Address, error) {
	if p.IsKeyed() {
		addr, ok := p.keyed[hw]
		if !ok {
			return ipaddr.Address{}, ErrNoMatch
		}
		return addr, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nextIdx >= len(p.positional) {
		return ipaddr.Address{}, ErrPlanExhausted
	}
	addr := p.positional[p.nextIdx]
	p.nextIdx++
	return addr, nil
}

// Remaining reports how many addresses a Positional plan still has to
// give out. It always returns 0 for a Keyed plan.
func (p *AssignmentPlan) Remaining() int {
	if p.IsKeyed() {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positional) - p.nextIdx
}

var (
	ipColumns  = []string{"finalipaddress", "ip", "ipaddress", "final_ip_address"}
	macColumns = []string{"macaddress", "mac", "hwaddr", "hardwareaddress"}
)

// Load reads a CSV from r and builds an AssignmentPlan. A header
// containing only an IP-like column yields a Positional plan; a header
// with both a MAC-like and an IP-like column yields a Keyed plan. Header
// matching is case- and whitespace-insensitive. Blank and unparseable
// rows are skipped with a warning; duplicate addresses (or duplicate
// hardware addresses in a Keyed plan) abort the load with ErrDuplicate.
func Load(r io.Reader, log *zap.SugaredLogger) (*AssignmentPlan, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}

	ipIdx, macIdx := -1, -1
	for i, col := range header {
		norm := normalizeHeader(col)
		if ipIdx == -1 && contains(ipColumns, norm) {
			ipIdx = i
		}
		if macIdx == -1 && contains(macColumns, norm) {
			macIdx = i
		}
	}
	if ipIdx == -1 {
		return nil, ErrNoHeader
	}

	if macIdx == -1 {
		return loadPositional(reader, ipIdx, log)
	}
	return loadKeyed(reader, ipIdx, macIdx, log)
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func loadPositional(reader *csv.Reader, ipIdx int, log *zap.SugaredLogger) (*AssignmentPlan, error) {
	var addrs []ipaddr.Address
	seen := make(map[uint32]bool)

	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if ipIdx >= len(record) || strings.TrimSpace(record[ipIdx]) == "" {
			continue
		}
		addr, err := ipaddr.Parse(strings.TrimSpace(record[ipIdx]))
		if err != nil {
			log.Warnw("skipping unparseable plan row", "row", row, "error", err)
			continue
		}
		if seen[addr.Uint32()] {
			return nil, ErrDuplicate
		}
		seen[addr.Uint32()] = true
		addrs = append(addrs, addr)
	}
	return Positional(addrs), nil
}

func loadKeyed(reader *csv.Reader, ipIdx, macIdx int, log *zap.SugaredLogger) (*AssignmentPlan, error) {
	table := make(map[hwaddr.HardwareAddress]ipaddr.Address)
	seenIP := make(map[uint32]bool)

	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if ipIdx >= len(record) || macIdx >= len(record) {
			continue
		}
		if strings.TrimSpace(record[ipIdx]) == "" && strings.TrimSpace(record[macIdx]) == "" {
			continue
		}
		hw, err := hwaddr.Parse(strings.TrimSpace(record[macIdx]))
		if err != nil {
			log.Warnw("skipping unparseable plan row", "row", row, "error", err)
			continue
		}
		addr, err := ipaddr.Parse(strings.TrimSpace(record[ipIdx]))
		if err != nil {
			log.Warnw("skipping unparseable plan row", "row", row, "error", err)
			continue
		}
		if _, dup := table[hw]; dup {
			return nil, ErrDuplicate
		}
		if seenIP[addr.Uint32()] {
			return nil, ErrDuplicate
		}
		seenIP[addr.Uint32()] = true
		table[hw] = addr
	}
	return Keyed(table), nil
}
