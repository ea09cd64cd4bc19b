package orchestrator

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
)

// standardColumns are the fixed leading columns every report row
// carries, always ahead of the per-step columns so downstream tooling
// can rely on their positions.
var standardColumns = []string{
	"temp_address", "hw_address", "verified_hw_address", "serial",
	"final_address", "status",
}

// WriteReport serializes s to w as the CSV the reporting front-end
// consumes: standard fields first, then <step>_success/
// <step>_message column pairs for every step name seen across the run,
// sorted alphabetically so the column set is stable regardless of which
// device ran which optional steps first.
func (s *Summary) WriteReport(w io.Writer) error {
	stepNames := s.sortedStepNames()

	header := append([]string{}, standardColumns...)
	for _, name := range stepNames {
		header = append(header, name+"_success", name+"_message")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range s.Results {
		if err := cw.Write(reportRow(r, stepNames)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// sortedStepNames collects every distinct step name recorded across the
// run's results and returns them sorted, so the column set is the same
// no matter which optional steps any given device ran.
func (s *Summary) sortedStepNames() []string {
	seen := make(map[string]bool)
	for _, r := range s.Results {
		for _, step := range r.Steps {
			seen[string(step.Step)] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func reportRow(r Result, stepNames []string) []string {
	byStep := make(map[string]StepResult, len(r.Steps))
	for _, step := range r.Steps {
		byStep[string(step.Step)] = step
	}

	row := []string{
		r.TempAddr,
		r.HWAddr.String(),
		r.VerifiedHW,
		r.Serial,
		r.FinalAddr,
		r.Status,
	}
	for _, name := range stepNames {
		step := byStep[name]
		row = append(row, strconv.FormatBool(step.Success), step.Message)
	}
	return row
}
