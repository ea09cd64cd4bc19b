package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"camprovision/internal/hwaddr"
)

// Result is the final record for one device: identity
// (temp/leased address, discovered hardware address, and - once step 9
// succeeds - the hardware address and serial read back from the device
// itself), the address it ended up with, a status that is either
// "success" or "failed_<stage>", and the full step-by-step trail for the
// report.
type Result struct {
	TempAddr   string
	HWAddr     hwaddr.HardwareAddress
	VerifiedHW string
	Serial     string
	FinalAddr  string
	Status     string
	Steps      []StepResult
	StartedAt  time.Time
	FinishedAt time.Time
}

func success(hw hwaddr.HardwareAddress, finalAddr string, steps []StepResult, started time.Time) Result {
	return Result{
		HWAddr:     hw,
		FinalAddr:  finalAddr,
		Status:     "success",
		Steps:      steps,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
}

func failure(hw hwaddr.HardwareAddress, step StepName, steps []StepResult, started time.Time) Result {
	return Result{
		HWAddr:     hw,
		Status:     fmt.Sprintf("failed_%s", step),
		Steps:      steps,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
}

// Summary accumulates Results across an entire run.
type Summary struct {
	Results []Result
}

// Add records one device's Result.
func (s *Summary) Add(r Result) {
	s.Results = append(s.Results, r)
	if r.Status == "success" {
		metrics.succeeded.Inc()
	} else {
		metrics.failed.WithLabelValues(strings.TrimPrefix(r.Status, "failed_")).Inc()
	}
}

// SucceededCount reports how many devices finished with Status == "success".
func (s *Summary) SucceededCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == "success" {
			n++
		}
	}
	return n
}

// FailedCount reports how many devices did not succeed.
func (s *Summary) FailedCount() int {
	return len(s.Results) - s.SucceededCount()
}

// ExitCode maps the run's outcome to a process exit code: 0 when every
// device succeeded, 1 when at least one succeeded and at least one
// failed, 2 when every device failed (including the degenerate case of
// zero devices processed), matching the three-valued exit behavior the
// supplemented CLI surface commits to.
func (s *Summary) ExitCode() int {
	if len(s.Results) == 0 {
		return 2
	}
	succeeded := s.SucceededCount()
	switch {
	case succeeded == len(s.Results):
		return 0
	case succeeded == 0:
		return 2
	default:
		return 1
	}
}
