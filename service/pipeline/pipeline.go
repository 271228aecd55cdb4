// Package pipeline is the fan-out/fan-in engine that drives thousands
// of fetch-decode-write tasks with bounded concurrency, per-task retry,
// progress reporting and partial-failure aggregation.
//
// A single coordinator owns the progress sink and the failure
// accounting; exactly Concurrency workers execute jobs. The job queue,
// result channel and sink form a star topology rooted at the
// coordinator.
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"

	"github.com/twintail/twintail/internal/logging"
	"github.com/twintail/twintail/service/status"
)

// Fetcher retrieves a payload. *client.Client satisfies it.
type Fetcher interface {
	GetRaw(ctx context.Context, url string) ([]byte, error)
}

// Options parameterize a pipeline run.
type Options struct {
	// Concurrency is the worker count.
	// Zero means one worker per logical CPU, capped at 32.
	Concurrency int
	// Sink receives progress. Nil means no progress reporting.
	Sink ProgressSink
	// FailureThreshold stops the run once more than this many jobs failed.
	// Zero means max(32, 1% of jobs).
	FailureThreshold int
}

// maxDefaultConcurrency caps the per-CPU worker default.
const maxDefaultConcurrency = 32

// progressInterval is how often the coordinator pushes a snapshot.
const progressInterval = 100 * time.Millisecond

// DefaultConcurrency is one worker per logical CPU, capped at 32.
func DefaultConcurrency() int {
	return min(runtime.NumCPU(), maxDefaultConcurrency)
}

func defaultFailureThreshold(totalJobs int) int {
	return max(32, totalJobs/100)
}

type result struct {
	job          Job
	bytesWritten int64
	duration     time.Duration
	cancelled    bool
	err          error
}

// Run executes jobs and returns the summary. Per-job failures land in
// the summary and do not abort other jobs, unless their count exceeds
// the failure threshold; that, or a version mismatch from any worker,
// cancels the whole run and is returned as the error alongside the
// partial summary.
func Run(ctx context.Context, fetcher Fetcher, jobs []Job, opts Options) (Summary, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}
	sink := opts.Sink
	if sink == nil {
		sink = NopSink{}
	}
	failureThreshold := opts.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold(len(jobs))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var cancelled atomic.Bool
	stop := func() {
		cancelled.Store(true)
		cancel()
	}

	exec := &worker{fetcher: fetcher, cancelled: &cancelled}
	queue := newWorkQueue(exec.execute, concurrency, concurrency, len(jobs))
	queue.Start(ctx)

	// The producer runs apart from the coordinator so that the bounded
	// job queue can exert backpressure without starving result
	// consumption.
	go func() {
		defer queue.Close()
		for _, job := range jobs {
			if !queue.Enqueue(ctx, job) {
				return
			}
		}
	}()

	var estimate int64 = -1
	sink.Start(len(jobs), estimate)

	started := time.Now()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	summary := Summary{Total: len(jobs)}
	var fatalErr error
	dirty := false

	snapshot := func() Snapshot {
		drained := summary.Completed + summary.Failed + summary.Cancelled
		return Snapshot{
			Completed:    summary.Completed,
			Failed:       summary.Failed,
			Cancelled:    summary.Cancelled,
			InFlight:     min(concurrency, summary.Total-drained),
			BytesWritten: summary.BytesWritten,
			Elapsed:      time.Since(started),
		}
	}

	results := queue.Results()
	for results != nil {
		select {
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			applyResult(&summary, res)
			dirty = true
			switch {
			case res.err != nil && status.KindOf(res.err).Fatal():
				if fatalErr == nil {
					fatalErr = res.err
					logging.Errorf("%s: %v - cancelling run", res.job.Name, res.err)
				}
				stop()
			case summary.Failed > failureThreshold:
				if fatalErr == nil {
					fatalErr = status.Errorf(status.KindProtocol,
						"aborted after %d failed jobs (threshold %d)", summary.Failed, failureThreshold)
					logging.Errorf("%v", fatalErr)
				}
				stop()
			}
		case <-ticker.C:
			if dirty {
				sink.Update(snapshot())
				dirty = false
			}
		}
	}

	// Unprocessed jobs the producer never enqueued count as cancelled.
	drained := summary.Completed + summary.Failed + summary.Cancelled
	summary.Cancelled += summary.Total - drained

	summary.Duration = time.Since(started)
	sink.Update(snapshot())
	sink.Finish(summary)
	return summary, fatalErr
}

func applyResult(summary *Summary, res result) {
	switch {
	case res.cancelled:
		summary.Cancelled++
	case res.err != nil:
		summary.Failed++
		summary.Failures = append(summary.Failures, JobFailure{
			Name: res.job.Name,
			Kind: status.KindOf(res.err),
			Err:  res.err,
		})
	default:
		summary.Completed++
		summary.BytesWritten += res.bytesWritten
	}
}

type worker struct {
	fetcher   Fetcher
	cancelled *atomic.Bool
}

// execute runs the five job steps in order: fetch, verify, transform,
// write, report. Cancellation is observed between steps; an in-flight
// write is allowed to complete.
func (w *worker) execute(ctx context.Context, job Job) result {
	started := time.Now()
	done := func(bytesWritten int64, err error) result {
		if err != nil && (w.cancelled.Load() || errors.Is(err, context.Canceled)) {
			return result{job: job, cancelled: true}
		}
		return result{job: job, bytesWritten: bytesWritten, duration: time.Since(started), err: err}
	}

	if w.cancelled.Load() || ctx.Err() != nil {
		return result{job: job, cancelled: true}
	}

	payload, err := w.fetchVerified(ctx, job)
	if err != nil {
		return done(0, err)
	}
	if w.cancelled.Load() || ctx.Err() != nil {
		return result{job: job, cancelled: true}
	}

	out, name, err := job.Transform.Apply(payload)
	if err != nil {
		return done(0, err)
	}
	if w.cancelled.Load() || ctx.Err() != nil {
		return result{job: job, cancelled: true}
	}

	destination := job.Destination
	if name != "" {
		destination = filepath.Join(job.Destination, filepath.FromSlash(name))
	}
	written, err := writeAtomic(destination, out)
	return done(written, err)
}

// fetchVerified fetches the payload and checks the expected MD5 of the
// bytes as served. A mismatch consumes retry budget; the HTTP layer
// handles transport-level retries underneath.
func (w *worker) fetchVerified(ctx context.Context, job Job) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= job.RetryBudget; attempt++ {
		payload, err := w.fetcher.GetRaw(ctx, job.SourceURL)
		if err != nil {
			return nil, err
		}
		if job.ExpectedHash == "" {
			return payload, nil
		}
		sum := md5.Sum(payload)
		if hex.EncodeToString(sum[:]) == job.ExpectedHash {
			return payload, nil
		}
		lastErr = status.Errorf(status.KindProtocol,
			"hash mismatch for %s: expected %s, got %s", job.Name, job.ExpectedHash, hex.EncodeToString(sum[:]))
		logging.Debugf("%v (attempt %d/%d)", lastErr, attempt+1, job.RetryBudget+1)
		if w.cancelled.Load() || ctx.Err() != nil {
			return nil, context.Canceled
		}
	}
	return nil, lastErr
}

// writeAtomic writes data via tmp-and-rename, creating parent
// directories as needed. Io failures are retried once.
func writeAtomic(destination string, data []byte) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
			lastErr = status.WithKind(status.KindIo, err)
			continue
		}
		if err := renameio.WriteFile(destination, data, 0o644); err != nil {
			lastErr = status.WithKind(status.KindIo, err)
			continue
		}
		return int64(len(data)), nil
	}
	return 0, lastErr
}
