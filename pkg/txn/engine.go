// Package txn implements the transaction engine (C9): a single-writer,
// FIFO-queued executor over ordered operation lists, each capable of
// producing a compensating rollback, backed by the write-ahead log for
// crash durability (spec §4.9).
package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vexgraph/vexgraph/pkg/vexerr"
	"github.com/vexgraph/vexgraph/pkg/wal"
)

// State is a transaction's position in its lifecycle.
type State string

const (
	StatePending     State = "pending"
	StateExecuting   State = "executing"
	StateCommitted   State = "committed"
	StateRollingBack State = "rolling_back"
	StateRolledBack  State = "rolled_back"
)

func (s State) terminal() bool { return s == StateCommitted || s == StateRolledBack }

// Rollback precisely reverses the effect of the Execute that produced
// it. Rollbacks must be idempotent: the engine may retry one on failure.
type Rollback func(ctx context.Context) error

// Execute performs one operation's effect, optionally returning a
// Rollback that reverses it. A nil Rollback means the operation has
// nothing to compensate (e.g. a pure read performed mid-transaction).
type Execute func(ctx context.Context) (Rollback, error)

// Operation is one step of a transaction. Payload is recorded in the WAL
// alongside Name so crash recovery can redo committed operations without
// needing the closures that produced them (those do not survive a
// restart).
type Operation struct {
	Name       string
	Payload    json.RawMessage
	Execute    Execute
	MaxRetries int // overrides Config.MaxRollbackRetries for this op's rollback when > 0
}

// Config tunes engine-wide timeouts and retry behavior.
type Config struct {
	MaxRollbackRetries int           // default 3 (spec §4.9 step 4)
	TransactionTimeout time.Duration // 0 disables the whole-transaction timeout
	OperationTimeout   time.Duration // 0 disables the per-operation timeout
}

// DefaultConfig returns the default retry/timeout tuning (§4.9).
func DefaultConfig() Config {
	return Config{MaxRollbackRetries: 3}
}

// Transaction records one execution's outcome for introspection
// (explain, statistics, logging).
type Transaction struct {
	ID         string
	State      State
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Engine serializes all write transactions through a single FIFO slot
// while leaving readers unblocked (spec §5 Concurrency).
type Engine struct {
	cfg  Config
	log  *wal.WAL
	slot chan struct{} // buffered 1; acquiring it is the FIFO write gate
	lg   *zap.Logger
}

// New wires an engine over log. lg may be nil, in which case a no-op
// logger is used.
func New(log *wal.WAL, cfg Config, lg *zap.Logger) *Engine {
	if cfg.MaxRollbackRetries <= 0 {
		cfg.MaxRollbackRetries = 3
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	slot := make(chan struct{}, 1)
	slot <- struct{}{}
	return &Engine{cfg: cfg, log: log, slot: slot, lg: lg}
}

type recordedRollback struct {
	name       string
	fn         Rollback
	maxRetries int
}

// Execute runs ops as one new transaction: appends a begin marker, runs
// each operation in order recording its rollback, and on any failure
// rolls back everything executed so far in reverse order before
// appending an abort marker. A whole-transaction timeout from
// cfg.TransactionTimeout (if set) bounds total execution and triggers
// the same rollback path.
func (e *Engine) Execute(ctx context.Context, ops []Operation) (*Transaction, error) {
	tx := &Transaction{ID: uuid.NewString(), State: StatePending, StartedAt: time.Now()}
	return e.run(ctx, tx, ops)
}

// Reexecute resumes a transaction handle previously returned by Execute
// or Reexecute, running ops against it under the same transaction id.
// It is the re-executable handle spec §4.9/§7 describes: if tx already
// reached a terminal state (committed or rolled back), it fails with
// vexerr.ErrInvalidTransactionState rather than beginning a new run,
// since terminal states are final (spec §4.2 "Terminal states...are
// final"). Used to retry a transaction that failed before reaching a
// terminal state, e.g. one whose Execute call never returned because
// the process crashed mid-run.
func (e *Engine) Reexecute(ctx context.Context, tx *Transaction, ops []Operation) (*Transaction, error) {
	if tx.State.terminal() {
		return tx, fmt.Errorf("%w: tx %s is %s", vexerr.ErrInvalidTransactionState, tx.ID, tx.State)
	}
	return e.run(ctx, tx, ops)
}

func (e *Engine) run(ctx context.Context, tx *Transaction, ops []Operation) (*Transaction, error) {
	select {
	case <-e.slot:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for write slot: %v", vexerr.ErrOperationTimeout, ctx.Err())
	}
	defer func() { e.slot <- struct{}{} }()

	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.TransactionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.TransactionTimeout)
		defer cancel()
	}

	if _, err := e.log.Append(tx.ID, wal.KindBegin, nil); err != nil {
		tx.State = StateRolledBack
		tx.Err = fmt.Errorf("%w: append begin: %v", vexerr.ErrStorageFail, err)
		tx.FinishedAt = time.Now()
		return tx, tx.Err
	}

	tx.State = StateExecuting
	var rollbacks []recordedRollback

	for _, op := range ops {
		if err := runCtx.Err(); err != nil {
			tx.Err = e.timeoutError(ctx, runCtx)
			break
		}
		// Intent is appended and flushed before the operation's effect
		// runs (spec §4.2 Writing discipline), so replay can reconstruct
		// this op even if the crash happens mid-execute.
		if _, err := e.log.Append(tx.ID, wal.KindOp, []wal.Op{{Name: op.Name, Payload: op.Payload}}); err != nil {
			tx.Err = fmt.Errorf("%w: append op %s: %v", vexerr.ErrStorageFail, op.Name, err)
			break
		}
		opCtx := runCtx
		var opCancel context.CancelFunc
		if e.cfg.OperationTimeout > 0 {
			opCtx, opCancel = context.WithTimeout(runCtx, e.cfg.OperationTimeout)
		}
		rb, err := op.Execute(opCtx)
		if opCancel != nil {
			opCancel()
		}
		if err != nil {
			if runCtx.Err() != nil {
				tx.Err = e.timeoutError(ctx, runCtx)
			} else if opCtx.Err() != nil {
				tx.Err = fmt.Errorf("%w: operation %s: %v", vexerr.ErrOperationTimeout, op.Name, err)
			} else {
				tx.Err = fmt.Errorf("operation %s failed: %w", op.Name, err)
			}
			break
		}
		if rb != nil {
			maxRetries := op.MaxRetries
			if maxRetries <= 0 {
				maxRetries = e.cfg.MaxRollbackRetries
			}
			rollbacks = append(rollbacks, recordedRollback{name: op.Name, fn: rb, maxRetries: maxRetries})
		}
	}

	if tx.Err != nil {
		e.rollback(ctx, tx, rollbacks)
		tx.FinishedAt = time.Now()
		return tx, tx.Err
	}

	if _, err := e.log.Append(tx.ID, wal.KindCommit, nil); err != nil {
		tx.Err = fmt.Errorf("%w: append commit: %v", vexerr.ErrStorageFail, err)
		e.rollback(ctx, tx, rollbacks)
		tx.FinishedAt = time.Now()
		return tx, tx.Err
	}

	tx.State = StateCommitted
	tx.FinishedAt = time.Now()
	return tx, nil
}

// timeoutError reports why runCtx (the whole-transaction context) ended:
// ErrTransactionTimeout if cfg.TransactionTimeout elapsed, otherwise the
// caller's own cancellation/deadline surfaced as the same sentinel since
// the engine's response to either is identical (rollback).
func (e *Engine) timeoutError(outer, inner context.Context) error {
	return fmt.Errorf("%w: %v", vexerr.ErrTransactionTimeout, inner.Err())
}

// rollback runs recorded rollbacks in reverse order, retrying each up to
// its configured limit. A rollback that still fails after retries is
// logged and does not stop the remaining rollbacks from running (spec
// §4.9 step 4). Rollback uses a fresh background context since the
// triggering context (outer or the per-tx timeout) may already be done.
func (e *Engine) rollback(outer context.Context, tx *Transaction, rollbacks []recordedRollback) {
	tx.State = StateRollingBack
	rbCtx := context.Background()
	for i := len(rollbacks) - 1; i >= 0; i-- {
		rb := rollbacks[i]
		var err error
		for attempt := 0; attempt <= rb.maxRetries; attempt++ {
			if err = rb.fn(rbCtx); err == nil {
				break
			}
		}
		if err != nil {
			e.lg.Error("rollback failed after retries",
				zap.String("tx", tx.ID), zap.String("op", rb.name), zap.Error(err))
		}
	}
	if _, err := e.log.Append(tx.ID, wal.KindAbort, nil); err != nil {
		e.lg.Error("append abort marker failed", zap.String("tx", tx.ID), zap.Error(err))
	}
	tx.State = StateRolledBack
}
