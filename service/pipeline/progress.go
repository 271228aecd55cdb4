package pipeline

import (
	"time"

	"github.com/twintail/twintail/service/status"
)

// Snapshot is one progress observation. Counters are monotonic across
// the snapshots a sink receives.
type Snapshot struct {
	Completed    int
	Failed       int
	Cancelled    int
	InFlight     int
	BytesWritten int64
	Elapsed      time.Duration
}

// JobFailure records one failed job for the summary.
type JobFailure struct {
	Name string
	Kind status.Kind
	Err  error
}

// Summary is the final accounting of a pipeline run.
// Completed + Failed + Cancelled always equals Total.
type Summary struct {
	Total        int
	Completed    int
	Failed       int
	Cancelled    int
	BytesWritten int64
	Duration     time.Duration
	Failures     []JobFailure
}

func (s Summary) PartialFailure() bool {
	return s.Failed > 0
}

// ProgressSink receives progress updates from the coordinator.
// Calls are linearised: at most one call is outstanding at a time, and
// a final Update always precedes Finish.
type ProgressSink interface {
	Start(totalJobs int, totalBytesEstimate int64)
	Update(snapshot Snapshot)
	Finish(summary Summary)
}

// NopSink discards all progress.
type NopSink struct{}

func (NopSink) Start(int, int64) {}
func (NopSink) Update(Snapshot)  {}
func (NopSink) Finish(Summary)   {}
