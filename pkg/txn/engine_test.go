package txn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexgraph/vexgraph/pkg/vexerr"
	"github.com/vexgraph/vexgraph/pkg/wal"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := wal.Open(wal.Config{Dir: dir, SyncMode: wal.SyncImmediate})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return New(w, DefaultConfig(), nil), dir
}

func opPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestExecuteCommitsAllOperationsInOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	var order []string

	ops := []Operation{
		{Name: "a", Payload: opPayload(t, "a"), Execute: func(ctx context.Context) (Rollback, error) {
			order = append(order, "a")
			return nil, nil
		}},
		{Name: "b", Payload: opPayload(t, "b"), Execute: func(ctx context.Context) (Rollback, error) {
			order = append(order, "b")
			return nil, nil
		}},
	}

	tx, err := e.Execute(context.Background(), ops)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, tx.State)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestExecuteRollsBackOnFailureInReverseOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	var compensated []string

	ops := []Operation{
		{Name: "add-x", Payload: opPayload(t, "x"), Execute: func(ctx context.Context) (Rollback, error) {
			return func(ctx context.Context) error {
				compensated = append(compensated, "remove-x")
				return nil
			}, nil
		}},
		{Name: "add-y", Payload: opPayload(t, "y"), Execute: func(ctx context.Context) (Rollback, error) {
			return func(ctx context.Context) error {
				compensated = append(compensated, "remove-y")
				return nil
			}, nil
		}},
		{Name: "boom", Payload: opPayload(t, "z"), Execute: func(ctx context.Context) (Rollback, error) {
			return nil, errors.New("boom")
		}},
	}

	tx, err := e.Execute(context.Background(), ops)
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, tx.State)
	assert.Equal(t, []string{"remove-y", "remove-x"}, compensated)
}

func TestRollbackRetriesUpToMaxThenLogsAndContinues(t *testing.T) {
	e, _ := newTestEngine(t)
	attempts := 0

	ops := []Operation{
		{Name: "flaky", Payload: opPayload(t, "f"), MaxRetries: 2, Execute: func(ctx context.Context) (Rollback, error) {
			return func(ctx context.Context) error {
				attempts++
				return errors.New("still failing")
			}, nil
		}},
		{Name: "boom", Payload: opPayload(t, "z"), Execute: func(ctx context.Context) (Rollback, error) {
			return nil, errors.New("boom")
		}},
	}

	tx, err := e.Execute(context.Background(), ops)
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, tx.State)
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
}

func TestTransactionTimeoutTriggersRollback(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.Open(wal.Config{Dir: dir, SyncMode: wal.SyncImmediate})
	require.NoError(t, err)
	defer w.Close()

	cfg := DefaultConfig()
	cfg.TransactionTimeout = 10 * time.Millisecond
	e := New(w, cfg, nil)

	ops := []Operation{
		{Name: "slow", Payload: opPayload(t, "s"), Execute: func(ctx context.Context) (Rollback, error) {
			select {
			case <-time.After(100 * time.Millisecond):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
	}

	tx, err := e.Execute(context.Background(), ops)
	require.Error(t, err)
	assert.ErrorIs(t, err, vexerr.ErrTransactionTimeout)
	assert.Equal(t, StateRolledBack, tx.State)
}

func TestWriteQueueSerializesConcurrentTransactions(t *testing.T) {
	e, _ := newTestEngine(t)
	const n = 8
	results := make(chan int, n)
	active := 0
	maxActive := 0

	for i := 0; i < n; i++ {
		go func(i int) {
			ops := []Operation{
				{Name: "work", Payload: opPayload(t, i), Execute: func(ctx context.Context) (Rollback, error) {
					active++
					if active > maxActive {
						maxActive = active
					}
					time.Sleep(time.Millisecond)
					active--
					return nil, nil
				}},
			}
			_, err := e.Execute(context.Background(), ops)
			if err == nil {
				results <- i
			} else {
				results <- -1
			}
		}(i)
	}

	for i := 0; i < n; i++ {
		<-results
	}
	assert.LessOrEqual(t, maxActive, 1, "engine must serialize writers through the FIFO slot")
}

func TestReplayReconstructsCommittedOperationsViaWALOpEntries(t *testing.T) {
	e, dir := newTestEngine(t)

	ops := []Operation{
		{Name: "put_noun", Payload: opPayload(t, map[string]string{"id": "n1"}), Execute: func(ctx context.Context) (Rollback, error) {
			return nil, nil
		}},
	}
	tx, err := e.Execute(context.Background(), ops)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, tx.State)

	var replayed []wal.Op
	r := replayerFunc(func(op wal.Op) error {
		replayed = append(replayed, op)
		return nil
	})
	require.NoError(t, wal.Replay(dir, r))
	require.Len(t, replayed, 1)
	assert.Equal(t, "put_noun", replayed[0].Name)
}

type replayerFunc func(op wal.Op) error

func (f replayerFunc) ReplayOp(op wal.Op) error { return f(op) }

func TestReexecuteRejectsTerminalTransaction(t *testing.T) {
	e, _ := newTestEngine(t)

	ops := []Operation{
		{Name: "a", Payload: opPayload(t, "a"), Execute: func(ctx context.Context) (Rollback, error) {
			return nil, nil
		}},
	}
	tx, err := e.Execute(context.Background(), ops)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, tx.State)

	_, err = e.Reexecute(context.Background(), tx, ops)
	require.Error(t, err)
	assert.ErrorIs(t, err, vexerr.ErrInvalidTransactionState)
}

func TestReexecuteRetriesAPendingTransaction(t *testing.T) {
	e, _ := newTestEngine(t)

	tx := &Transaction{ID: "resumed", State: StatePending, StartedAt: time.Now()}
	var ran bool
	ops := []Operation{
		{Name: "a", Payload: opPayload(t, "a"), Execute: func(ctx context.Context) (Rollback, error) {
			ran = true
			return nil, nil
		}},
	}

	resumed, err := e.Reexecute(context.Background(), tx, ops)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, StateCommitted, resumed.State)
	assert.Equal(t, "resumed", resumed.ID)
}
