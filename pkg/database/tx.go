package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
)

// InTx runs fn inside a transaction. The transaction is carried on the
// context so repository calls made by fn participate in it. The transaction
// commits when fn returns nil and rolls back otherwise.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(WithQuerier(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// WithWorkflowLock runs fn inside a transaction holding a row lock on the
// workflow. This is what serializes event handling per workflow: concurrent
// handlers for the same workflow queue up on the row, so each one observes
// the state the previous one committed. Handlers for different workflows
// proceed in parallel.
func (db *DB) WithWorkflowLock(ctx context.Context, workflowID uuid.UUID, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, func(ctx context.Context) error {
		q := QuerierFrom(ctx, db.Pool)

		var locked uuid.UUID
		err := q.QueryRow(ctx, `SELECT id FROM workflows WHERE id = $1 FOR UPDATE`, workflowID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, workflowID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
		}

		return fn(ctx)
	})
}
