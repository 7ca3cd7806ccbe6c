package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// PruneModel removes all transitions of a model that have a frequency less
// than or equal to minFreq, returning how many were removed. This is useful
// for reducing the size of a model by removing rare, and often noisy,
// transitions.
func (s *Store) PruneModel(ctx context.Context, model ModelInfo, minFreq int) (int, error) {
	res, err := s.stmtPruneModel.ExecContext(ctx, model.Id, minFreq)
	if err != nil {
		return 0, fmt.Errorf("could not prune model %d: %w", model.Id, err)
	}
	rowsAffected, _ := res.RowsAffected()

	s.logger.InfoContext(ctx, "Model pruned",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("min_frequency", minFreq),
		slog.Int64("transitions_removed", rowsAffected),
	)
	return int(rowsAffected), nil
}

// PruneOrphans performs a database-wide cleanup, removing interned contexts
// that no transition starts from and states that neither a transition nor a
// remaining context refers to. It is typically run after RemoveModel or
// PruneModel. It returns the number of states and contexts removed.
func (s *Store) PruneOrphans(ctx context.Context) (states, contexts int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("could not begin transaction for pruning: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	orphanContexts, err := queryIDs(ctx, tx,
		`SELECT context_id FROM cadenza_contexts WHERE context_id NOT IN (SELECT DISTINCT context_id FROM cadenza_transitions)`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query for orphaned contexts: %w", err)
	}
	if err := s.batchDelete(ctx, tx, "cadenza_contexts", "context_id", intSliceToInterface(orphanContexts)); err != nil {
		return 0, 0, fmt.Errorf("failed to prune orphaned contexts: %w", err)
	}

	// States are still in use when they are a next state or part of a
	// surviving context. Context texts are space-separated state ids.
	used := make(map[int]struct{})
	cRows, err := tx.QueryContext(ctx, `SELECT context_text FROM cadenza_contexts`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query contexts for checking: %w", err)
	}
	for cRows.Next() {
		var text string
		if err := cRows.Scan(&text); err != nil {
			_ = cRows.Close()
			return 0, 0, fmt.Errorf("failed to scan context row: %w", err)
		}
		for _, idStr := range strings.Fields(text) {
			id, _ := strconv.Atoi(idStr)
			used[id] = struct{}{}
		}
	}
	_ = cRows.Close()
	if err := cRows.Err(); err != nil {
		return 0, 0, fmt.Errorf("error after iterating context rows: %w", err)
	}

	candidates, err := queryIDs(ctx, tx,
		`SELECT state_id FROM cadenza_states WHERE state_id NOT IN (SELECT DISTINCT next_state_id FROM cadenza_transitions)`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query for unused states: %w", err)
	}
	orphanStates := make([]int, 0, len(candidates))
	for _, id := range candidates {
		if _, ok := used[id]; !ok {
			orphanStates = append(orphanStates, id)
		}
	}
	if err := s.batchDelete(ctx, tx, "cadenza_states", "state_id", intSliceToInterface(orphanStates)); err != nil {
		return 0, 0, fmt.Errorf("failed to prune orphaned states: %w", err)
	}

	s.logger.InfoContext(ctx, "Orphans pruned successfully",
		slog.Int("states_removed", len(orphanStates)),
		slog.Int("contexts_removed", len(orphanContexts)),
	)

	return len(orphanStates), len(orphanContexts), tx.Commit()
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string) ([]int, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// batchDelete is a private helper to robustly delete from a table. It handles empty lists and splits large lists into smaller batches to avoid SQL limits.
func (s *Store) batchDelete(ctx context.Context, tx *sql.Tx, table, column string, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}

	// SQLite's default variable limit is 999, so around half that is good
	const batchSize = 500

	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (?%s)", table, column, strings.Repeat(",?", len(batch)-1))

		if _, err := tx.ExecContext(ctx, query, batch...); err != nil {
			return err
		}
	}
	return nil
}

// intSliceToInterface is a helper to convert []int to []interface{} for SQL args.
func intSliceToInterface(s []int) []interface{} {
	if s == nil {
		return nil
	}
	i := make([]interface{}, len(s))
	for j, v := range s {
		i[j] = v
	}
	return i
}
