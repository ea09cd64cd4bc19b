package prober

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMatchesMarker(t *testing.T) {
	cases := []struct {
		header string
		want   bool
	}{
		{"AXIS Camera Station", true},
		{`Basic realm="AXIS_00408C123456"`, true},
		{"Apache/2.4.41", false},
		{"", false},
	}
	for _, c := range cases {
		if got := matchesMarker(c.header); got != c.want {
			t.Errorf("matchesMarker(%q) = %v, want %v", c.header, got, c.want)
		}
	}
}

func TestWaitReachableReturnsOnProbeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	probe := func(ctx context.Context) (int, error) { return http.StatusOK, nil }
	err = WaitReachable(context.Background(), net.ParseIP(host), port, probe, 10*time.Millisecond, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("WaitReachable: %v", err)
	}
}

func TestWaitReachableHonorsDeadline(t *testing.T) {
	// Nothing listens on the reserved TEST-NET-1 block, so the TCP phase
	// never passes and the wait must end at the context deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	probe := func(ctx context.Context) (int, error) { return 0, context.DeadlineExceeded }
	err := WaitReachable(ctx, net.ParseIP("192.0.2.1"), 80, probe, 10*time.Millisecond, zap.NewNop().Sugar())
	if err == nil {
		t.Fatal("expected a deadline error for an unreachable address")
	}
}
