package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// IsolationLevel selects the transaction isolation for WithTransaction.
// The default is serializable: two concurrent transactions updating the same
// row cannot both commit. Callers that explicitly tolerate last-write-wins
// can opt into a weaker level.
type IsolationLevel string

const (
	IsolationSerializable   IsolationLevel = "serializable"
	IsolationRepeatableRead IsolationLevel = "repeatable read"
	IsolationReadCommitted  IsolationLevel = "read committed"
)

// TxOptions configures a transaction started by WithTransaction.
type TxOptions struct {
	Isolation IsolationLevel
}

type txContextKey struct{}

// txState tracks the active transaction and its nesting depth. Nested
// WithTransaction calls share the same underlying connection and use
// savepoints rather than acquiring a second connection.
type txState struct {
	tx    pgx.Tx
	depth int
}

// TxFromContext returns the active transaction bound to ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	st, _ := ctx.Value(txContextKey{}).(*txState)
	if st == nil {
		return nil
	}
	return st.tx
}

// TxDepthFromContext returns the nesting depth of the active transaction,
// or 0 when no transaction is bound to ctx.
func TxDepthFromContext(ctx context.Context) int {
	st, _ := ctx.Value(txContextKey{}).(*txState)
	if st == nil {
		return 0
	}
	return st.depth
}

// SavepointName derives the savepoint identifier for a nesting depth.
func SavepointName(depth int) string {
	return fmt.Sprintf("sp_%d", depth)
}

func pgxIsoLevel(level IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case IsolationRepeatableRead:
		return pgx.RepeatableRead
	case IsolationReadCommitted:
		return pgx.ReadCommitted
	default:
		return pgx.Serializable
	}
}

// WithTransaction runs fn inside a database transaction. When ctx already
// carries a transaction, a savepoint is created on the same connection and a
// failure in fn rolls back to that savepoint only, then the error is
// returned for the enclosing scope to handle. At the top level, a failure
// rolls back the whole transaction.
func WithTransaction(ctx context.Context, pool Pool, opts TxOptions, fn func(ctx context.Context) error) error {
	if st, ok := ctx.Value(txContextKey{}).(*txState); ok && st != nil {
		return withSavepoint(ctx, st, fn)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgxIsoLevel(opts.Isolation)})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	inner := context.WithValue(ctx, txContextKey{}, &txState{tx: tx, depth: 1})
	if err := fn(inner); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func withSavepoint(ctx context.Context, st *txState, fn func(ctx context.Context) error) error {
	depth := st.depth + 1
	name := SavepointName(depth)

	if _, err := st.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint %s: %w", name, err)
	}

	inner := context.WithValue(ctx, txContextKey{}, &txState{tx: st.tx, depth: depth})
	if err := fn(inner); err != nil {
		if _, rbErr := st.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s: %v (original error: %w)", name, rbErr, err)
		}
		return err
	}

	if _, err := st.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
