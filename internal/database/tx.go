package database

import (
	"context"
	"database/sql"
	"fmt"
)

type txKey struct{}

// txState is the transaction carried in a context, with the hooks to run
// once it commits.
type txState struct {
	tx    *sql.Tx
	hooks []func()
}

func getTx(ctx context.Context) (*txState, bool) {
	st, ok := ctx.Value(txKey{}).(*txState)
	return st, ok && st != nil
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getExecutor returns the transaction in ctx, or db.
func getExecutor(ctx context.Context, db *sql.DB) executor {
	if st, ok := getTx(ctx); ok {
		return st.tx
	}
	return db
}

// AfterCommit registers fn to run after the transaction in ctx commits. It
// is dropped on rollback. Without a transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if st, ok := getTx(ctx); ok {
		st.hooks = append(st.hooks, fn)
		return
	}
	fn()
}

// WithoutTransaction returns ctx with its transaction detached, for work
// that outlives it such as after-commit hooks.
func WithoutTransaction(ctx context.Context) context.Context {
	if !InTransaction(ctx) {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, (*txState)(nil))
}

// InTransaction reports whether ctx carries a transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := getTx(ctx)
	return ok
}

func runInTransaction(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := getTx(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	st := &txState{tx: tx}

	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, hook := range st.hooks {
		hook()
	}
	return nil
}
