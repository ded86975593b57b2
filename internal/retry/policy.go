package retry

import (
	"context"
	"errors"
	"time"

	"github.com/bookvision/visualization/internal/model"
)

// Decision is the outcome of evaluating a failed processing step.
type Decision int

const (
	// Retry sends the job back to the queue.
	Retry Decision = iota
	// Exhausted means the retry budget is spent and the job fails.
	Exhausted
	// Permanent means the error can never succeed on retry.
	Permanent
	// Abort means the job was cancelled; no transition is applied.
	Abort
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Exhausted:
		return "exhausted"
	case Permanent:
		return "permanent"
	case Abort:
		return "abort"
	}
	return "unknown"
}

const DefaultMaxRetries = 3

// Policy decides between requeue and terminal failure.
type Policy struct {
	MaxRetries             int
	PromptTimeout          time.Duration
	ImageGenerationTimeout time.Duration
	StorageTimeout         time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:             DefaultMaxRetries,
		PromptTimeout:          30 * time.Second,
		ImageGenerationTimeout: 5 * time.Minute,
		StorageTimeout:         time.Minute,
	}
}

// Decide classifies err for a job that has already been retried retryCount
// times. cancelled must be true when the job was cancelled while the step ran.
func (p Policy) Decide(retryCount int, err error, cancelled bool) Decision {
	if cancelled {
		return Abort
	}
	if model.IsPermanent(err) {
		return Permanent
	}
	if retryCount >= p.maxRetries() {
		return Exhausted
	}
	return Retry
}

// Classify maps context deadline errors onto the timeout taxonomy so they go
// through the same policy as provider failures.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrTimeout) {
		return errors.Join(model.ErrTimeout, err)
	}
	return err
}

// Apply runs the decision against job. It returns the decision so callers can
// requeue on Retry.
func (p Policy) Apply(job *model.VisualizationJob, err error, cancelled bool, now time.Time) (Decision, error) {
	err = Classify(err)
	d := p.Decide(job.RetryCount, err, cancelled)
	switch d {
	case Retry:
		return d, job.RequeueForRetry(err, now)
	case Exhausted, Permanent:
		return d, job.Fail(err, now)
	case Abort:
		return d, nil
	}
	return d, nil
}

func (p Policy) maxRetries() int {
	if p.MaxRetries < 0 {
		return 0
	}
	return p.MaxRetries
}
