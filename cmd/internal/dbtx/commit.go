package dbtx

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Write is one store mutation that takes part in a multi-write commit.
type Write struct {
	Name  string
	Apply func(ctx context.Context) error
}

// CommitPolicy bounds the atomic attempts before falling back.
type CommitPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultCommitPolicy is three attempts, 50ms apart.
func DefaultCommitPolicy() CommitPolicy {
	return CommitPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}
}

// CommitResult describes how a multi-write commit was applied.
type CommitResult struct {
	Atomic   bool
	Attempts int
	// Failed lists the writes that did not apply in fallback mode.
	Failed []string
	// AtomicErr is the last error from the atomic path, if the fallback ran.
	AtomicErr error
}

// Partial reports whether the fallback left some writes unapplied.
func (r CommitResult) Partial() bool { return len(r.Failed) > 0 }

// ErrPartialCommit is returned when the fallback could not apply every write.
var ErrPartialCommit = errors.New("partial commit")

// Commit applies writes inside one transaction, retrying up to policy.Attempts
// times. When every attempt fails it applies the writes independently, in
// order, and reports which ones did not land.
func Commit(ctx context.Context, runner Runner, policy CommitPolicy, writes ...Write) (CommitResult, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if runner == nil {
		runner = DirectRunner{}
	}

	var res CommitResult
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		res.Attempts = attempt
		lastErr = runner.WithTx(ctx, func(txCtx context.Context) error {
			for _, w := range writes {
				if err := w.Apply(txCtx); err != nil {
					return fmt.Errorf("%s: %w", w.Name, err)
				}
			}
			return nil
		})
		if lastErr == nil {
			res.Atomic = true
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			break
		}
		if attempt < policy.Attempts && policy.Backoff > 0 {
			t := time.NewTimer(policy.Backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}

	res.AtomicErr = lastErr
	// Independent writes must not inherit a cancelled request context; the
	// external side effect has already happened.
	fbCtx := context.WithoutCancel(ctx)
	var errs []error
	for _, w := range writes {
		if err := w.Apply(fbCtx); err != nil {
			res.Failed = append(res.Failed, w.Name)
			errs = append(errs, fmt.Errorf("%s: %w", w.Name, err))
		}
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("%w: %w", ErrPartialCommit, errors.Join(errs...))
	}
	return res, nil
}
