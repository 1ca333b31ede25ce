package dbtx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRunner struct {
	failures int
	calls    int
}

func (r *failingRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	if r.calls <= r.failures {
		return errors.New("could not serialize access")
	}
	return fn(ctx)
}

func recordWrite(name string, log *[]string, err error) Write {
	return Write{Name: name, Apply: func(context.Context) error {
		*log = append(*log, name)
		return err
	}}
}

func TestCommit_AtomicFirstTry(t *testing.T) {
	var applied []string
	res, err := Commit(context.Background(), &failingRunner{}, CommitPolicy{Attempts: 3},
		recordWrite("booking", &applied, nil),
		recordWrite("code", &applied, nil),
	)
	require.NoError(t, err)
	assert.True(t, res.Atomic)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"booking", "code"}, applied)
}

func TestCommit_RetriesThenSucceedsAtomically(t *testing.T) {
	var applied []string
	runner := &failingRunner{failures: 2}
	res, err := Commit(context.Background(), runner, CommitPolicy{Attempts: 3},
		recordWrite("booking", &applied, nil),
	)
	require.NoError(t, err)
	assert.True(t, res.Atomic)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, runner.calls)
}

func TestCommit_FallsBackToIndependentWrites(t *testing.T) {
	var applied []string
	runner := &failingRunner{failures: 10}
	res, err := Commit(context.Background(), runner, CommitPolicy{Attempts: 2},
		recordWrite("booking", &applied, nil),
		recordWrite("code", &applied, nil),
	)
	require.NoError(t, err)
	assert.False(t, res.Atomic)
	assert.False(t, res.Partial())
	assert.Error(t, res.AtomicErr)
	assert.Equal(t, []string{"booking", "code"}, applied)
}

func TestCommit_ReportsPartialFallback(t *testing.T) {
	var applied []string
	boom := errors.New("boom")
	res, err := Commit(context.Background(), &failingRunner{failures: 10}, CommitPolicy{Attempts: 1},
		recordWrite("booking", &applied, nil),
		recordWrite("code", &applied, boom),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialCommit)
	assert.ErrorIs(t, err, boom)
	assert.True(t, res.Partial())
	assert.Equal(t, []string{"code"}, res.Failed)
	assert.Equal(t, []string{"booking", "code"}, applied)
}

func TestCommit_WriteErrorInsideTxTriggersRetry(t *testing.T) {
	calls := 0
	w := Write{Name: "flaky", Apply: func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	}}
	res, err := Commit(context.Background(), DirectRunner{}, CommitPolicy{Attempts: 3}, w)
	require.NoError(t, err)
	assert.True(t, res.Atomic)
	assert.Equal(t, 2, res.Attempts)
}
