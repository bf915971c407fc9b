// Package studio contains the per-studio job processors. Each processor is a
// deterministic state machine with the common shape prepare → submit provider
// → poll → persist artifacts → finalize, and reports its outcome as a Result
// instead of leaking raw errors to the worker loop.
package studio

import (
	"context"
	"time"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/provider"
)

// Result is a processor outcome. Status is the job status to record:
// succeeded/failed for terminal outcomes, queued for a requeue with Delay,
// stitching for the longform hand-off, running for a job parked on a
// required user action.
type Result struct {
	Status  models.JobStatus
	Delay   time.Duration
	Code    string
	Message string
}

// Done reports terminal success.
func Done() Result {
	return Result{Status: models.JobSucceeded}
}

// DoneWith reports a non-failure hand-off to another status (stitching, or
// running for a parked job).
func DoneWith(status models.JobStatus) Result {
	return Result{Status: status}
}

// Requeue reports a recoverable failure. The job returns to the queue with
// next_run_at pushed out by delay.
func Requeue(delay time.Duration, code, message string) Result {
	return Result{Status: models.JobQueued, Delay: delay, Code: code, Message: message}
}

// Fail reports a permanent failure.
func Fail(code, message string) Result {
	return Result{Status: models.JobFailed, Code: code, Message: message}
}

// FromProviderError classifies a provider failure into requeue or fail using
// the error taxonomy. delay is the backoff for the transient case.
func FromProviderError(err error, delay time.Duration) Result {
	code, transient := provider.Classify(err)
	if transient {
		return Requeue(delay, code, err.Error())
	}
	return Fail(code, err.Error())
}

// Processor advances one claimed job through its state machine. Process must
// not panic for expected failures; the worker loop recovers unexpected
// panics and records WORKER_CRASH.
type Processor interface {
	Process(ctx context.Context, job *models.Job) Result
}

// Registry maps studio types to their processors.
type Registry map[models.StudioType]Processor

// For returns the processor owning a studio type.
func (r Registry) For(studio models.StudioType) (Processor, bool) {
	p, ok := r[studio]
	return p, ok
}
