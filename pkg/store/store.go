package store

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

// SetupSchema initializes the tables used by the Store in the provided
// database. It should be called once on a new database before any other
// operations are performed. It is idempotent and safe to call on an
// already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaStates = `
CREATE TABLE IF NOT EXISTS cadenza_states (
    state_id INTEGER PRIMARY KEY,
    state_text TEXT NOT NULL UNIQUE
);
`
		schemaContexts = `
CREATE TABLE IF NOT EXISTS cadenza_contexts (
	context_id INTEGER PRIMARY KEY,
	context_text TEXT NOT NULL UNIQUE
);
`
		schemaModels = `
CREATE TABLE IF NOT EXISTS cadenza_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    model_kind TEXT NOT NULL,
    model_order INTEGER NOT NULL,
    composer TEXT NOT NULL DEFAULT ''
);
`
		schemaTransitions = `
CREATE TABLE IF NOT EXISTS cadenza_transitions (
    model_id INTEGER NOT NULL,
    context_id INTEGER NOT NULL,
    next_state_id INTEGER NOT NULL,
    frequency  INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (model_id, context_id, next_state_id)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaStates, schemaContexts, schemaModels, schemaTransitions} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store is a library of trained transition tables kept in a SQLite database.
// States and contexts are interned once and shared by every model; each model
// owns its transition counts.
type Store struct {
	db                     *sql.DB
	stmtGetModelInfo       *sql.Stmt
	stmtGetModels          *sql.Stmt
	stmtAddModel           *sql.Stmt
	stmtPruneModel         *sql.Stmt
	stmtModelTransitions   *sql.Stmt
	stmtModelContexts      *sql.Stmt
	stmtModelFreq          *sql.Stmt
	stmtModelRows          *sql.Stmt
	stmtGetStateLen        *sql.Stmt
	stmtGetContextLen      *sql.Stmt
	stmtGetOrInsertState   *sql.Stmt
	stmtGetOrInsertContext *sql.Stmt
	stmtGetStateText       *sql.Stmt
	logger                 *slog.Logger
}

// NewStore creates and returns a new Store. It pre-compiles all necessary SQL
// statements, returning an error if any preparation fails. SetupSchema must
// have been called on db.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	statements := []struct {
		stmt  **sql.Stmt
		query string
	}{
		{&s.stmtGetModelInfo, `SELECT model_id, model_kind, model_order, composer FROM cadenza_models WHERE model_name = ?;`},
		{&s.stmtGetModels, `SELECT model_id, model_name, model_kind, model_order, composer FROM cadenza_models ORDER BY model_name;`},
		{&s.stmtAddModel, `INSERT INTO cadenza_models (model_name, model_kind, model_order, composer) VALUES (?, ?, ?, ?);`},
		{&s.stmtPruneModel, `DELETE FROM cadenza_transitions WHERE model_id = ? AND frequency <= ?;`},
		{&s.stmtModelTransitions, `SELECT COUNT(*) FROM cadenza_transitions WHERE model_id = ?;`},
		{&s.stmtModelContexts, `SELECT COUNT(DISTINCT context_id) FROM cadenza_transitions WHERE model_id = ?;`},
		{&s.stmtModelFreq, `SELECT coalesce(SUM(frequency), 0) FROM cadenza_transitions WHERE model_id = ?;`},
		{&s.stmtModelRows, `
SELECT c.context_text, n.state_text, t.frequency
FROM cadenza_transitions t
JOIN cadenza_contexts c ON c.context_id = t.context_id
JOIN cadenza_states n ON n.state_id = t.next_state_id
WHERE t.model_id = ?
ORDER BY t.context_id, t.next_state_id;`},
		{&s.stmtGetStateLen, `SELECT COUNT(*) FROM cadenza_states;`},
		{&s.stmtGetContextLen, `SELECT COUNT(*) FROM cadenza_contexts;`},
		{&s.stmtGetOrInsertState, `INSERT INTO cadenza_states (state_text) VALUES (?) ON CONFLICT(state_text) DO UPDATE SET state_text=excluded.state_text RETURNING state_id;`},
		{&s.stmtGetOrInsertContext, `INSERT INTO cadenza_contexts (context_text) VALUES (?) ON CONFLICT(context_text) DO UPDATE SET context_text=excluded.context_text RETURNING context_id;`},
		{&s.stmtGetStateText, `SELECT state_text FROM cadenza_states WHERE state_id = ?;`},
	}

	for _, st := range statements {
		stmt, err := db.Prepare(st.query)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("could not prepare statement: %w", err)
		}
		*st.stmt = stmt
	}

	return s, nil
}

// Close releases all prepared SQL statements held by the Store. It does not
// close the database itself.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtGetModelInfo,
		s.stmtGetModels,
		s.stmtAddModel,
		s.stmtPruneModel,
		s.stmtModelTransitions,
		s.stmtModelContexts,
		s.stmtModelFreq,
		s.stmtModelRows,
		s.stmtGetStateLen,
		s.stmtGetContextLen,
		s.stmtGetOrInsertState,
		s.stmtGetOrInsertContext,
		s.stmtGetStateText,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}
