// Package prober implements the two device checks: a vendor-marker
// HTTP probe that classifies a freshly leased address as "looks like our
// target device" at discovery time, and a reachability waiter that polls
// an address until the device answers there after an address change. Each check
// layers independent signals and falls through on a miss rather than
// treating the first failure as final.
package prober

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	ping "github.com/sparrc/go-ping"
	"go.uber.org/zap"
)

// VendorMarkers are response header/body substrings that identify an Axis
// camera's HTTP front door.
var VendorMarkers = []string{"axis", "vapix"}

// managementPath is the vendor-specific path the first HEAD check
// targets, ahead of the unauthenticated root-page scan.
const managementPath = "/axis-cgi/mjpg/video.cgi"

// managementPort is the TCP port the handshake-only probe dials when
// neither HTTP layer produces a positive signal.
const managementPort = 80

// Identify reports whether addr looks like a target device, via a
// layered sequence that returns at the first positive signal:
//  1. HEAD the vendor management path; a Server header naming the vendor,
//     a 401 whose WWW-Authenticate names digest together with the vendor
//     or a realm, or a redirect whose Location names the vendor or
//     index.html, is positive.
//  2. An unauthenticated GET of the root path, scanning the body for a
//     vendor marker.
//  3. A bare TCP handshake against the management port, with no HTTP
//     response required.
//  4. Otherwise negative.
//
// A link-layer ICMP probe is attempted first purely to inform the log
// line; its result never gates the HTTP checks, since some devices
// suppress echo replies.
func Identify(ctx context.Context, addr net.IP, timeout time.Duration) (bool, error) {
	client := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, //nolint:gosec
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	// Informational only: its result never gates the HTTP
	// checks below, since some devices suppress ICMP echo replies.
	_, _ = PingLink(addr, 1, time.Second)

	if ok, err := headVendorPath(ctx, client, addr); ok || err != nil {
		return ok, err
	}
	if ok, err := getRootBody(ctx, client, addr); ok || err != nil {
		return ok, err
	}
	return tcpReachable(addr, managementPort, timeout), nil
}

func headVendorPath(ctx context.Context, client *http.Client, addr net.IP) (bool, error) {
	url := fmt.Sprintf("http://%s%s", addr.String(), managementPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, nil //nolint:nilerr // connection errors just mean "not this one"
	}
	defer resp.Body.Close()

	if matchesMarker(resp.Header.Get("Server")) {
		return true, nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		wwwAuth := resp.Header.Get("WWW-Authenticate")
		if strings.Contains(strings.ToLower(wwwAuth), "digest") &&
			(matchesMarker(wwwAuth) || strings.Contains(strings.ToLower(wwwAuth), "realm=")) {
			return true, nil
		}
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		lower := strings.ToLower(loc)
		if matchesMarker(loc) || strings.Contains(lower, "index.html") {
			return true, nil
		}
	}
	return false, nil
}

func getRootBody(ctx context.Context, client *http.Client, addr net.IP) (bool, error) {
	url := fmt.Sprintf("http://%s/", addr.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, nil //nolint:nilerr // connection errors just mean "not this one"
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return false, nil //nolint:nilerr // a truncated body just means "not this one"
	}
	return matchesMarker(string(body)), nil
}

func matchesMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range VendorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// PingLink sends a small burst of ICMP echoes to addr. A failed ping
// doesn't abort the caller; the TCP and HTTP phases in WaitReachable
// still get a chance, since some cameras firewall ICMP and an
// unprivileged process can't raw-socket ping at all.
func PingLink(addr net.IP, count int, timeout time.Duration) (bool, error) {
	pinger, err := ping.NewPinger(addr.String())
	if err != nil {
		return false, err
	}
	pinger.Count = count
	pinger.Timeout = timeout
	pinger.SetPrivileged(true)
	pinger.Run()
	stats := pinger.Statistics()
	return stats.PacketsRecv > 0, nil
}

// WaitReachable polls addr until it answers an authenticated HTTP GET,
// or ctx is cancelled. Each poll runs an ICMP link check whose result is
// only logged, then a bare TCP dial on port as a fast rejection of "not
// yet", and finally the authenticated GET itself. A TLS handshake failure still
// counts as reachable; the device is up and talking TLS, just not with
// a certificate we trust, which is expected on a fresh camera.
func WaitReachable(ctx context.Context, addr net.IP, port int, probe func(context.Context) (status int, err error), pollInterval time.Duration, log *zap.SugaredLogger) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if alive, err := PingLink(addr, 1, time.Second); err == nil && !alive {
			log.Debugw("no ping response yet, some cameras firewall ICMP so still trying TCP/HTTP", "addr", addr.String())
		}

		if tcpReachable(addr, port, time.Second) {
			status, err := probe(ctx)
			if err == nil {
				return nil
			}
			if isTLSHandshakeFailure(err) {
				log.Debugw("tls handshake failed, device is reachable", "addr", addr.String(), "error", err)
				return nil
			}
			if status == http.StatusUnauthorized {
				log.Debugw("device reachable, awaiting credentials", "addr", addr.String())
				return nil
			}
			log.Debugw("probe not ready", "addr", addr.String(), "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func tcpReachable(addr net.IP, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", addr.String(), port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func isTLSHandshakeFailure(err error) bool {
	if err == nil {
		return false
	}
	var certErr *tls.CertificateVerificationError
	if ok := errorsAsCertVerification(err, &certErr); ok {
		return true
	}
	return strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "certificate")
}

func errorsAsCertVerification(err error, target **tls.CertificateVerificationError) bool {
	for err != nil {
		if ce, ok := err.(*tls.CertificateVerificationError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
