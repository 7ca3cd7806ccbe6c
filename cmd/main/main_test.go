package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
	"github.com/CTAG07/Cadenza/pkg/store"
	"github.com/stretchr/testify/require"
)

// Every interval seen in these lines is followed by a whole step up, so a
// model trained on them only ever suggests 2 once it has a context.
const stepUpLines = "[-1, 2, 2, 2]\n\n[1, 2]\n"

// After a quarter note or an eighth note always comes an eighth note.
const eighthLines = "[[1,4],[1,8]]\n[[1,8],[1,8]]\n"

// writeTestConfig writes a config file whose data lives in a temporary
// directory and returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Server.DataDir = dir
	cfg.Server.DatabasePath = filepath.Join(dir, "cadenza.db")
	cfg.Server.LogLevel = "error"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "cadenza.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// runCLI executes the root command with args and returns what it printed.
func runCLI(t *testing.T, configPath, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// mustRunCLI is runCLI for commands that are expected to succeed.
func mustRunCLI(t *testing.T, configPath, stdin string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, configPath, stdin, args...)
	require.NoError(t, err, "cadenza %s", strings.Join(args, " "))
	return out
}

// setupTestStore opens a store in a temporary file with a trained interval
// model "melody" and a trained duration model "rhythm", both of order 1.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := initDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.SetupSchema(db))

	st, err := store.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	logger := discardLogger()

	intervals, err := readSequences(strings.NewReader(stepUpLines), melody.IntervalCodec{})
	require.NoError(t, err)
	melodyTable, err := trainTable(1, "bach", intervals, 1, logger)
	require.NoError(t, err)
	saveTestModel(t, st, "melody", melody.KindInterval, melodyTable, melody.IntervalCodec{})

	durations, err := readSequences(strings.NewReader(eighthLines), melody.DurationCodec{})
	require.NoError(t, err)
	rhythmTable, err := trainTable(1, "bach", durations, 1, logger)
	require.NoError(t, err)
	saveTestModel(t, st, "rhythm", melody.KindDuration, rhythmTable, melody.DurationCodec{})
	return st
}

func saveTestModel[S comparable](t *testing.T, st *store.Store, name string, kind melody.Kind, table *markov.Table[S], codec markov.Codec[S]) {
	t.Helper()
	ctx := context.Background()
	model, err := ensureModel(ctx, st, store.ModelInfo{Name: name, Kind: kind, Order: table.Order(), Composer: "bach"})
	require.NoError(t, err)
	require.NoError(t, store.SaveTable(ctx, st, model, table, codec))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
