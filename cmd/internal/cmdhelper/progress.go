package cmdhelper

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/twintail/twintail/internal/logging"
	"github.com/twintail/twintail/service/pipeline"
	"github.com/twintail/twintail/service/status"
)

// ConsoleSink renders pipeline progress on stderr: an in-place line
// when stderr is a terminal, periodic log lines otherwise.
type ConsoleSink struct {
	total     int
	isTTY     bool
	lastPrint time.Time
}

// logEvery is the cadence of progress lines when stderr is not a
// terminal (the coordinator updates far more often).
const logEvery = 2 * time.Second

func NewConsoleSink() *ConsoleSink {
	info, err := os.Stderr.Stat()
	isTTY := err == nil && info.Mode()&os.ModeCharDevice != 0
	return &ConsoleSink{isTTY: isTTY}
}

func (s *ConsoleSink) Start(totalJobs int, totalBytesEstimate int64) {
	s.total = totalJobs
	logging.Basicf("processing %d jobs", totalJobs)
}

func (s *ConsoleSink) Update(snapshot pipeline.Snapshot) {
	if s.isTTY {
		fmt.Fprintf(os.Stderr, "\r%d/%d done, %d failed, %s written (%s)   ",
			snapshot.Completed, s.total, snapshot.Failed,
			formatBytes(snapshot.BytesWritten), snapshot.Elapsed.Truncate(time.Second))
		return
	}
	if time.Since(s.lastPrint) >= logEvery {
		s.lastPrint = time.Now()
		logging.Basicf("%d/%d done, %d failed, %s written",
			snapshot.Completed, s.total, snapshot.Failed, formatBytes(snapshot.BytesWritten))
	}
}

func (s *ConsoleSink) Finish(summary pipeline.Summary) {
	if s.isTTY {
		fmt.Fprintln(os.Stderr)
	}
	logging.Basicf("%d completed, %d failed, %d cancelled, %s written in %s",
		summary.Completed, summary.Failed, summary.Cancelled,
		formatBytes(summary.BytesWritten), summary.Duration.Truncate(time.Millisecond))
}

// maxFailuresPerKind bounds the error messages printed per discriminant
// in the failure table.
const maxFailuresPerKind = 5

// PrintFailureSummary renders the partial-failure table: counts and the
// first few error messages grouped by discriminant.
func PrintFailureSummary(failures []pipeline.JobFailure) {
	grouped := map[status.Kind][]pipeline.JobFailure{}
	for _, failure := range failures {
		grouped[failure.Kind] = append(grouped[failure.Kind], failure)
	}
	kinds := make([]string, 0, len(grouped))
	for kind := range grouped {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	logging.Errorf("%d jobs failed:", len(failures))
	for _, kind := range kinds {
		failuresOfKind := grouped[status.Kind(kind)]
		logging.Errorf("  %s (%d):", kind, len(failuresOfKind))
		for i, failure := range failuresOfKind {
			if i == maxFailuresPerKind {
				logging.Errorf("    ... and %d more", len(failuresOfKind)-maxFailuresPerKind)
				break
			}
			logging.Errorf("    %s: %v", failure.Name, failure.Err)
		}
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
