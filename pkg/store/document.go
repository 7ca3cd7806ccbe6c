package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/CTAG07/Cadenza/pkg/markov"
)

// SaveDocument merges the counts of doc into model, adding frequencies to
// any transitions the model already has. Saving the same training data twice
// therefore doubles its weight. The document must match the model's kind and
// order and is fully validated before anything is written. The entire
// operation is performed within a single database transaction.
func (s *Store) SaveDocument(ctx context.Context, model ModelInfo, doc *markov.Document) error {
	canonical, err := checkDocument(model, doc)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// All transaction-specific statements will also be closed with this or the .Commit()
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	merged, err := s.saveDocumentTx(ctx, tx, model.Id, canonical)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Document saved",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("transitions_merged", merged),
		slog.Int("observations_added", canonical.TotalObservations),
	)

	return tx.Commit()
}

// checkDocument returns the canonical form of doc after making sure it fits
// model.
func checkDocument(model ModelInfo, doc *markov.Document) (*markov.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", markov.ErrInvalidArgument)
	}
	if doc.Shape != string(model.Kind) || doc.Order != model.Order {
		return nil, fmt.Errorf("%w: %s document of order %d does not fit %s model %q of order %d",
			markov.ErrInvalidArgument, doc.Shape, doc.Order, model.Kind, model.Name, model.Order)
	}
	return canonicalDocument(doc)
}

// saveDocumentTx interns every state and context of doc and merges its counts
// into modelID. It returns the number of transitions written.
func (s *Store) saveDocumentTx(ctx context.Context, tx *sql.Tx, modelID int, doc *markov.Document) (int, error) {
	stmtGetOrInsertState := tx.StmtContext(ctx, s.stmtGetOrInsertState)
	stmtGetOrInsertContext := tx.StmtContext(ctx, s.stmtGetOrInsertContext)
	// Prepare a special query so that if we're updating instead of inserting, we don't overwrite the frequency value
	stmtMergeTransition, err := tx.PrepareContext(ctx, `
		INSERT INTO cadenza_transitions (model_id, context_id, next_state_id, frequency) VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id, context_id, next_state_id) DO UPDATE SET frequency = frequency + excluded.frequency;
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare transition merge statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtMergeTransition)

	stateCache := make(map[string]int)
	stateID := func(text string) (int, error) {
		if id, ok := stateCache[text]; ok {
			return id, nil
		}
		var id int
		if err := stmtGetOrInsertState.QueryRowContext(ctx, text).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to get or insert state '%s': %w", text, err)
		}
		stateCache[text] = id
		return id, nil
	}

	var keyBuf []byte
	merged := 0
	for _, ctxKey := range sortedKeys(doc.Contexts) {
		var parts []json.RawMessage
		if err := json.Unmarshal([]byte(ctxKey), &parts); err != nil {
			return merged, fmt.Errorf("%w: context key %q: %v", markov.ErrDeserialization, ctxKey, err)
		}

		keyBuf = keyBuf[:0]
		for j, part := range parts {
			id, err := stateID(string(part))
			if err != nil {
				return merged, err
			}
			if j > 0 {
				keyBuf = append(keyBuf, ' ')
			}
			keyBuf = strconv.AppendInt(keyBuf, int64(id), 10)
		}
		contextText := string(keyBuf)

		var contextID int
		if err := stmtGetOrInsertContext.QueryRowContext(ctx, contextText).Scan(&contextID); err != nil {
			return merged, fmt.Errorf("failed to get or insert context '%s': %w", contextText, err)
		}

		next := doc.Contexts[ctxKey]
		for _, stateKey := range sortedKeys(next) {
			nextID, err := stateID(stateKey)
			if err != nil {
				return merged, err
			}
			if _, err := stmtMergeTransition.ExecContext(ctx, modelID, contextID, nextID, next[stateKey]); err != nil {
				return merged, fmt.Errorf("failed to merge transition (%d -> %d): %w", contextID, nextID, err)
			}
			merged++
		}
	}
	return merged, nil
}

// LoadDocument rebuilds the persisted document of model. The result can be
// decoded into a table with markov.FromDocument and the codec of the model's
// kind.
func (s *Store) LoadDocument(ctx context.Context, model ModelInfo) (*markov.Document, error) {
	rows, err := s.stmtModelRows.QueryContext(ctx, model.Id)
	if err != nil {
		return nil, fmt.Errorf("could not query transitions of model %d: %w", model.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	doc := &markov.Document{
		Shape:    string(model.Kind),
		Order:    model.Order,
		Contexts: make(map[string]map[string]int),
	}

	type row struct {
		contextText string
		stateText   string
		frequency   int
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.contextText, &r.stateText, &r.frequency); err != nil {
			return nil, err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	// Context texts hold state ids, which are resolved once each.
	stateText := make(map[string]string)
	contextKeys := make(map[string]string)
	for _, r := range all {
		ctxKey, ok := contextKeys[r.contextText]
		if !ok {
			ids := strings.Fields(r.contextText)
			texts := make([]string, len(ids))
			for i, id := range ids {
				text, ok := stateText[id]
				if !ok {
					stateID, err := strconv.Atoi(id)
					if err != nil {
						return nil, fmt.Errorf("corrupt context %q of model %d: %w", r.contextText, model.Id, err)
					}
					if err := s.stmtGetStateText.QueryRowContext(ctx, stateID).Scan(&text); err != nil {
						return nil, fmt.Errorf("could not resolve state %s of model %d: %w", id, model.Id, err)
					}
					stateText[id] = text
				}
				texts[i] = text
			}
			ctxKey = "[" + strings.Join(texts, ",") + "]"
			contextKeys[r.contextText] = ctxKey
		}

		next, ok := doc.Contexts[ctxKey]
		if !ok {
			next = make(map[string]int)
			doc.Contexts[ctxKey] = next
		}
		next[r.stateText] += r.frequency
		doc.TotalObservations += r.frequency
	}

	s.logger.DebugContext(ctx, "Document loaded",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("contexts", len(doc.Contexts)),
		slog.Int("total_observations", doc.TotalObservations),
	)
	return doc, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
