// Package txn is a unit of work for pipelines that touch more than one
// resource (package storage and the database). Each successful step can
// register an undo; on failure the undos run newest first.
package txn

import (
	"context"
	"fmt"
	"time"

	"ispring-backend/internal/logger"
)

// compensationTimeout bounds a whole rollback. Undos run detached from the
// caller's cancellation: a rollback usually follows a cancelled request.
const compensationTimeout = 30 * time.Second

// Scope is the database-backed boundary a unit of work runs in. When fn
// returns an error the scope must discard its own writes.
type Scope interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// Transaction holds the compensations registered so far.
type Transaction struct {
	log   *logger.Logger
	stack []compensation

	// OnCompensate, when set, observes every compensation run.
	OnCompensate func(name string, err error)
}

func New(log *logger.Logger) *Transaction {
	if log == nil {
		log = logger.Nop()
	}
	return &Transaction{log: log}
}

// Len returns the number of pending compensations.
func (t *Transaction) Len() int {
	return len(t.stack)
}

// Execute runs action and, if it succeeds, registers compensate(result).
// A nil compensate registers nothing.
func Execute[T any](
	ctx context.Context,
	t *Transaction,
	name string,
	action func(ctx context.Context) (T, error),
	compensate func(ctx context.Context, result T) error,
) (T, error) {
	result, err := action(ctx)
	if err != nil {
		return result, err
	}
	if compensate != nil {
		t.stack = append(t.stack, compensation{
			name: name,
			undo: func(ctx context.Context) error { return compensate(ctx, result) },
		})
	}
	return result, nil
}

// Rollback runs every pending compensation, newest first. A failing
// compensation is logged and the rest still run.
func (t *Transaction) Rollback(ctx context.Context, cause error) {
	if len(t.stack) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for i := len(t.stack) - 1; i >= 0; i-- {
		c := t.stack[i]
		err := runCompensation(ctx, c)
		if err != nil {
			t.log.Error("compensation failed", "step", c.name, "cause", cause, "error", err)
		} else {
			t.log.Debug("compensation applied", "step", c.name)
		}
		if t.OnCompensate != nil {
			t.OnCompensate(c.name, err)
		}
	}
	t.stack = nil
}

// Commit forgets the pending compensations without running them.
func (t *Transaction) Commit() {
	t.stack = nil
}

func runCompensation(ctx context.Context, c compensation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.undo(ctx)
}

// Run executes fn inside scope. If fn fails or panics, or the scope fails
// to commit, the scope's writes are discarded, the registered compensations
// run, and the original error (or panic) is propagated unchanged.
// Compensations run after the scope has ended, outside its transaction.
func Run(ctx context.Context, scope Scope, log *logger.Logger, fn func(ctx context.Context, t *Transaction) error) error {
	return RunObserved(ctx, scope, log, nil, fn)
}

// RunObserved is Run with a compensation observer attached.
func RunObserved(
	ctx context.Context,
	scope Scope,
	log *logger.Logger,
	observe func(name string, err error),
	fn func(ctx context.Context, t *Transaction) error,
) error {
	t := New(log)
	t.OnCompensate = observe

	if err := runScope(ctx, scope, t, fn); err != nil {
		t.Rollback(ctx, err)
		return err
	}
	// Only a committed scope makes the registered steps permanent.
	t.Commit()
	return nil
}

func runScope(ctx context.Context, scope Scope, t *Transaction, fn func(ctx context.Context, t *Transaction) error) error {
	defer func() {
		if r := recover(); r != nil {
			t.Rollback(ctx, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	return scope.InTx(ctx, func(ctx context.Context) error {
		return fn(ctx, t)
	})
}

// NoScope runs fn directly. Used where no database is involved.
type NoScope struct{}

func (NoScope) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
