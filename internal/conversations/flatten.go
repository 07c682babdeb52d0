package conversations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FlattenReport summarizes one run of the hierarchy retirement repair.
type FlattenReport struct {
	Parents           int `json:"parents"`
	ChildrenDeleted   int `json:"children_deleted"`
	MessagesReparented int `json:"messages_reparented"`
}

// Flattener is the one-off reconciliation that retired the parent/child
// conversation hierarchy. Legacy rows carried conversation_type
// ('parent'/'child') and parent_conversation_id; the repair reparents every
// child's messages onto the parent, rewrites the parent preview from the
// most recent message by sent_at descending, and deletes the child rows.
//
// The repair is irreversible and not part of the steady-state pipeline. It
// is idempotent: a second run finds no children and changes nothing.
type Flattener struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewFlattener creates the repair utility.
func NewFlattener(log *slog.Logger, pool *pgxpool.Pool) *Flattener {
	if log == nil {
		log = slog.Default()
	}
	return &Flattener{
		pool:   pool,
		logger: log.With(slog.String("component", "conversation_flattener")),
	}
}

// Run flattens every remaining parent/child pair, one transaction per
// parent so a crash mid-run leaves each parent either fully flattened or
// untouched.
func (f *Flattener) Run(ctx context.Context) (FlattenReport, error) {
	rows, err := f.pool.Query(ctx, `
		SELECT DISTINCT parent_conversation_id
		FROM conversations
		WHERE parent_conversation_id IS NOT NULL`)
	if err != nil {
		return FlattenReport{}, fmt.Errorf("list parents: %w", err)
	}
	var parents []pgtype.UUID
	for rows.Next() {
		var parentID pgtype.UUID
		if err := rows.Scan(&parentID); err != nil {
			rows.Close()
			return FlattenReport{}, err
		}
		parents = append(parents, parentID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return FlattenReport{}, err
	}

	var report FlattenReport
	for _, parentID := range parents {
		reparented, deleted, err := f.flattenParent(ctx, parentID)
		if err != nil {
			return report, fmt.Errorf("flatten parent %s: %w", parentID.String(), err)
		}
		report.Parents++
		report.MessagesReparented += reparented
		report.ChildrenDeleted += deleted
		f.logger.Info("flattened conversation hierarchy",
			slog.String("parent_id", parentID.String()),
			slog.Int("messages", reparented),
			slog.Int("children", deleted))
	}
	return report, nil
}

func (f *Flattener) flattenParent(ctx context.Context, parentID pgtype.UUID) (reparented, deleted int, err error) {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	moveTag, err := tx.Exec(ctx, `
		UPDATE messages
		SET conversation_id = $1
		WHERE conversation_id IN (
			SELECT id FROM conversations WHERE parent_conversation_id = $1
		)`, parentID)
	if err != nil {
		return 0, 0, fmt.Errorf("reparent messages: %w", err)
	}

	// Preview becomes the latest message's text; ties broken by sent_at
	// descending, then created_at as the stable fallback.
	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET preview = COALESCE((
			SELECT body FROM messages
			WHERE conversation_id = $1
			ORDER BY sent_at DESC, created_at DESC
			LIMIT 1
		), preview),
		    conversation_type = NULL,
		    updated_at = now()
		WHERE id = $1`, parentID)
	if err != nil {
		return 0, 0, fmt.Errorf("rewrite preview: %w", err)
	}

	deleteTag, err := tx.Exec(ctx,
		`DELETE FROM conversations WHERE parent_conversation_id = $1`, parentID)
	if err != nil {
		return 0, 0, fmt.Errorf("delete children: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return int(moveTag.RowsAffected()), int(deleteTag.RowsAffected()), nil
}
