package orchestrator

import (
	"testing"
	"time"

	"camprovision/internal/hwaddr"
)

func TestSummaryExitCode(t *testing.T) {
	hw := hwaddr.MustParse("00:40:8C:11:22:33")
	now := time.Now()

	cases := []struct {
		name    string
		results []Result
		want    int
	}{
		{"empty", nil, 2},
		{"all succeed", []Result{success(hw, "192.168.1.10", nil, now)}, 0},
		{"all fail", []Result{failure(hw, StepInitialAdmin, nil, now)}, 2},
		{"mixed", []Result{
			success(hw, "192.168.1.10", nil, now),
			failure(hw, StepStaticAddress, nil, now),
		}, 1},
	}

	for _, c := range cases {
		var s Summary
		for _, r := range c.results {
			s.Add(r)
		}
		if got := s.ExitCode(); got != c.want {
			t.Errorf("%s: ExitCode() = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestSummaryCounts(t *testing.T) {
	hw := hwaddr.MustParse("00:40:8C:11:22:33")
	now := time.Now()
	var s Summary
	s.Add(success(hw, "192.168.1.10", nil, now))
	s.Add(failure(hw, StepVerify, nil, now))

	if s.SucceededCount() != 1 {
		t.Errorf("SucceededCount() = %d, want 1", s.SucceededCount())
	}
	if s.FailedCount() != 1 {
		t.Errorf("FailedCount() = %d, want 1", s.FailedCount())
	}
}
