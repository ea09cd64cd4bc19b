// Package orchestrator drives the ordered per-device provisioning
// program for devices already discovered: create accounts, disable
// insecure defaults, assign the final address, wait for the device to
// answer at that address, and verify. Devices run through a small bounded worker pool, each with a
// logger carrying its address and hardware address so interleaved
// multi-device output stays attributable.
package orchestrator

import (
	"net"
	"time"

	"camprovision/internal/hwaddr"
)

// DeviceRecord is one camera as discovered on the provisioning segment:
// its hardware address and the transient address it holds via DHCP while
// the program runs.
type DeviceRecord struct {
	HWAddr       hwaddr.HardwareAddress
	LeasedAddr   net.IP
	DiscoveredAt time.Time
}

// StepName identifies one stage of the provisioning program. Values are
// the failure-status suffixes used in Result.Status
// ("failed_<stage>").
type StepName string

const (
	StepInitialAdmin   StepName = "initial_admin"
	StepSecondaryAdmin StepName = "secondary_admin"
	StepOnvifUser      StepName = "onvif_user"
	StepDisableWDR     StepName = "disable_wdr"
	StepDisableReplay  StepName = "disable_replay"
	StepNoAddress      StepName = "no-address"
	StepStaticAddress  StepName = "ip-configuration"
	StepReachable      StepName = "reachability"
	StepVerify         StepName = "verify"
)

// provisionOne in steps.go runs these nine steps in a fixed order.
// A step that isn't applicable to a given run (no secondary
// credentials, no ONVIF credentials) is skipped rather than removed from
// the program, so its absence in a device's report is always explainable
// by the run's Credentials rather than by code path. Only
// StepInitialAdmin, StepNoAddress, StepStaticAddress, and StepReachable
// abort a device; the rest are logged and leave the eventual status
// untouched.

// StepResult captures one step's (success, message) outcome for the
// record. A retried step's Message carries
// its own "(after N attempts)" suffix, supplied by the vapix client that
// ran it.
type StepResult struct {
	Step    StepName
	Success bool
	Message string
}
