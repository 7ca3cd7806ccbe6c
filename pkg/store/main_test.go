package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a new SQLite database and a Store for testing.
// It uses t.Cleanup to ensure resources are released.
func setupTestDB(t testing.TB) (*sql.DB, *Store) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// intervalTable trains an interval table of the given order.
func intervalTable(t testing.TB, order int, seqs ...[]melody.Interval) *markov.Table[melody.Interval] {
	t.Helper()
	tbl, err := markov.NewTable[melody.Interval](order)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	for _, seq := range seqs {
		tbl.Train(seq)
	}
	return tbl
}

// setupTestDBWithTraining is a convenience helper that also stores a trained
// interval model.
func setupTestDBWithTraining(t *testing.T) (context.Context, *Store, ModelInfo, *markov.Table[melody.Interval]) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	model, err := s.InsertModel(ctx, ModelInfo{Name: "test_model", Kind: melody.KindInterval, Order: 2, Composer: "bach"})
	if err != nil {
		t.Fatalf("setup: InsertModel() failed: %v", err)
	}
	tbl := intervalTable(t, 2, []melody.Interval{2, 2, 1, 2, 2, 2, 1}, []melody.Interval{-1, -2, -2, -1, -2, 12, -12})
	if err := SaveTable(ctx, s, model, tbl, melody.IntervalCodec{}); err != nil {
		t.Fatalf("setup: SaveTable() failed: %v", err)
	}
	return ctx, s, model, tbl
}

func assertSameTable[S comparable](t *testing.T, want, got *markov.Table[S]) {
	t.Helper()
	if want.Order() != got.Order() || want.TotalObservations() != got.TotalObservations() || want.Len() != got.Len() {
		t.Fatalf("table mismatch: want %+v, got %+v", want.Stats(), got.Stats())
	}
	want.Each(func(ctx []S, next S, count int) {
		if c := got.Counts(ctx)[next]; c != count {
			t.Errorf("%v -> %v: want count %d, got %d", ctx, next, count, c)
		}
	})
}
