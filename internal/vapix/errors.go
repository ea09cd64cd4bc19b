package vapix

import (
	"fmt"
	"net"
)

// ErrBadMask, ErrTransport, ErrAuth, ErrDeviceState,
// and ErrProtocol are sentinel categories; callers compare with errors.Is.
var (
	// ErrBadMask is returned when a subnet mask isn't a contiguous prefix.
	ErrBadMask = fmt.Errorf("vapix: subnet mask is not a contiguous prefix")

	// ErrTransport marks a connection-level failure: refused, reset, or
	// timed out. The VAPIX client always retries these within budget.
	ErrTransport = fmt.Errorf("vapix: transport error")

	// ErrAuth marks a 401/403 from a call that required authentication.
	// It is never retried, and aborts only the current step.
	ErrAuth = fmt.Errorf("vapix: authentication failed")

	// ErrProtocol marks a malformed response: unparseable XML/JSON or a
	// missing required field.
	ErrProtocol = fmt.Errorf("vapix: malformed response")

	// ErrDeviceState marks a call that failed for a reason the device
	// reports in its response body rather than its status code, e.g.
	// "account already exist" from pwdgrp.cgi. Calls recognize specific
	// ErrDeviceState strings and normalize them to success.
	ErrDeviceState = fmt.Errorf("vapix: device reported a recognized state")
)

// PrefixLength converts a dotted-decimal subnet mask to its prefix length.
// A non-contiguous mask (one whose bits aren't a run of 1s followed by a
// run of 0s) fails with ErrBadMask before any network I/O.
func PrefixLength(mask string) (int, error) {
	ip := net.ParseIP(mask)
	if ip == nil {
		return 0, ErrBadMask
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, ErrBadMask
	}

	ones, bits := net.IPMask(v4).Size()
	if bits == 0 {
		// Size() returns (0, 0) for a non-contiguous mask.
		return 0, ErrBadMask
	}
	return ones, nil
}
