package tx

import (
	"context"
	"database/sql"
	"fmt"
)

// Transactor runs a function inside one storage transaction. Stores that
// support it pick the transaction out of the context via From.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Runner is the SQL-backed Transactor.
type Runner struct {
	db *sql.DB
}

// NewRunner constructs a Transactor over a SQL database.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// InTx begins a transaction, injects it into the context and commits if fn
// returns nil. Any error rolls the transaction back.
func (r *Runner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Passthrough is a Transactor that runs fn directly, for stores with no
// transaction support (memory stores under test).
type Passthrough struct{}

// InTx invokes fn with the unmodified context.
func (Passthrough) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
