package orchestrator

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camprovision/internal/config"
	"camprovision/internal/hwaddr"
	"camprovision/internal/ipaddr"
	"camprovision/internal/plan"
)

// stubCamera answers the whole CGI surface the provisioning program
// touches, the way a cooperative factory-fresh device would.
func stubCamera(t *testing.T) (net.IP, int) {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/axis-cgi/pwdgrp.cgi":
			io.WriteString(w, "Created account.")
		case "/axis-cgi/usergroup.cgi":
			io.WriteString(w, "root\n")
		case "/axis-cgi/admin/param.cgi":
			io.WriteString(w, "OK")
		case "/axis-cgi/network_settings.cgi":
			io.WriteString(w, `{"apiVersion":"1.0","data":{}}`)
		case "/axis-cgi/param.cgi":
			// Parameter updates (WDR, replay protection) and the identity
			// listing share this CGI, split by action.
			if r.URL.Query().Get("action") == "update" {
				io.WriteString(w, "OK")
				return
			}
			io.WriteString(w, "root.Network.eth0.MACAddress=AA:BB:CC:DD:EE:01\nroot.Properties.System.SerialNumber=AABBCCDDEE01\n")
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return net.ParseIP(host), port
}

func testOptions(p *plan.AssignmentPlan, port int) Options {
	return Options{
		Credentials:   config.Credentials{RootPassword: "pass"},
		Network:       config.NetworkConfig{SubnetMask: "255.255.255.0", Gateway: "127.0.0.1"},
		Plan:          p,
		ReachableWait: 5 * time.Second,
		PollInterval:  50 * time.Millisecond,
		DevicePort:    port,
	}
}

func feedRecords(recs ...DeviceRecord) <-chan DeviceRecord {
	ch := make(chan DeviceRecord, len(recs))
	for _, r := range recs {
		ch <- r
	}
	close(ch)
	return ch
}

// A single device against a cooperative stub runs the whole program
// through to success: account creation, hardening, static addressing,
// reachability, and identity verification.
func TestRunSingleDevicePositional(t *testing.T) {
	addr, port := stubCamera(t)

	finalAddr, err := ipaddr.Parse(addr.String())
	require.NoError(t, err)
	p := plan.Positional([]ipaddr.Address{finalAddr})

	rec := DeviceRecord{
		HWAddr:       hwaddr.MustParse("AA:BB:CC:DD:EE:01"),
		LeasedAddr:   addr,
		DiscoveredAt: time.Now(),
	}

	summary := Run(context.Background(), feedRecords(rec), testOptions(p, port), zap.NewNop().Sugar())

	require.Len(t, summary.Results, 1)
	res := summary.Results[0]
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, addr.String(), res.FinalAddr)
	assert.Equal(t, addr.String(), res.TempAddr)
	assert.Equal(t, "AABBCCDDEE01", res.VerifiedHW)
	assert.Equal(t, "AABBCCDDEE01", res.Serial)
	assert.Equal(t, 0, summary.ExitCode())

	// The step trail carries every executed step in program order.
	var names []StepName
	for _, s := range res.Steps {
		names = append(names, s.Step)
		assert.True(t, s.Success, "step %s failed: %s", s.Step, s.Message)
	}
	assert.Equal(t, []StepName{
		StepInitialAdmin, StepDisableWDR, StepDisableReplay,
		StepNoAddress, StepStaticAddress, StepReachable, StepVerify,
	}, names)
}

// Keyed assignment: the device in the plan succeeds with its mapped
// address; the device missing from the plan aborts with no-address.
func TestRunKeyedHitAndMiss(t *testing.T) {
	addr, port := stubCamera(t)

	finalAddr, err := ipaddr.Parse(addr.String())
	require.NoError(t, err)
	known := hwaddr.MustParse("AA:BB:CC:DD:EE:01")
	stranger := hwaddr.MustParse("AA:BB:CC:DD:EE:02")
	p := plan.Keyed(map[hwaddr.HardwareAddress]ipaddr.Address{known: finalAddr})

	summary := Run(context.Background(), feedRecords(
		DeviceRecord{HWAddr: known, LeasedAddr: addr, DiscoveredAt: time.Now()},
		DeviceRecord{HWAddr: stranger, LeasedAddr: addr, DiscoveredAt: time.Now()},
	), testOptions(p, port), zap.NewNop().Sugar())

	require.Len(t, summary.Results, 2)
	byHW := make(map[string]Result)
	for _, r := range summary.Results {
		byHW[r.HWAddr.String()] = r
	}

	assert.Equal(t, "success", byHW[known.String()].Status)
	assert.Equal(t, addr.String(), byHW[known.String()].FinalAddr)
	assert.Equal(t, "failed_no-address", byHW[stranger.String()].Status)
	assert.Equal(t, 1, summary.ExitCode())
}

// Positional exhaustion: the second device has no address left and
// aborts with no-address while the first still succeeds.
func TestRunPositionalExhaustion(t *testing.T) {
	addr, port := stubCamera(t)

	finalAddr, err := ipaddr.Parse(addr.String())
	require.NoError(t, err)
	p := plan.Positional([]ipaddr.Address{finalAddr})

	summary := Run(context.Background(), feedRecords(
		DeviceRecord{HWAddr: hwaddr.MustParse("AA:BB:CC:DD:EE:01"), LeasedAddr: addr, DiscoveredAt: time.Now()},
		DeviceRecord{HWAddr: hwaddr.MustParse("AA:BB:CC:DD:EE:02"), LeasedAddr: addr, DiscoveredAt: time.Now()},
	), testOptions(p, port), zap.NewNop().Sugar())

	require.Len(t, summary.Results, 2)
	statuses := make(map[string]int)
	for _, r := range summary.Results {
		statuses[r.Status]++
	}
	assert.Equal(t, 1, statuses["success"])
	assert.Equal(t, 1, statuses["failed_no-address"])
}

// A device whose required first step fails aborts immediately; later
// steps never run.
func TestRunInitialAdminFailureAborts(t *testing.T) {
	var sawParamCall bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/axis-cgi/pwdgrp.cgi", "/axis-cgi/usergroup.cgi":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			sawParamCall = true
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	addr := net.ParseIP(host)

	finalAddr, err := ipaddr.Parse(addr.String())
	require.NoError(t, err)
	p := plan.Positional([]ipaddr.Address{finalAddr})

	summary := Run(context.Background(), feedRecords(
		DeviceRecord{HWAddr: hwaddr.MustParse("AA:BB:CC:DD:EE:01"), LeasedAddr: addr, DiscoveredAt: time.Now()},
	), testOptions(p, port), zap.NewNop().Sugar())

	require.Len(t, summary.Results, 1)
	res := summary.Results[0]
	assert.Equal(t, "failed_initial_admin", res.Status)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StepInitialAdmin, res.Steps[0].Step)
	assert.False(t, res.Steps[0].Success)
	assert.False(t, sawParamCall, "no step after the aborting one may issue a request")
	assert.Equal(t, 2, summary.ExitCode())
}
