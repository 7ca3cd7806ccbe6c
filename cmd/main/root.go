package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/CTAG07/Cadenza/pkg/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app carries the state shared by every command: the loaded configuration,
// the logger, and the lazily opened model store.
type app struct {
	configPath string
	logLevel   string

	cfg    *Config
	logger *slog.Logger
	db     *sql.DB
	store  *store.Store
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cadenza",
		Short: "Trains and samples Markov models of melody and rhythm",
		Long: `cadenza counts transitions between musical states (intervals, scale-degree
features, durations) in pre-extracted sequences, stores the tables in SQLite,
and generates new phrases from them on the command line or over HTTP.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "./cadenza.json", "path to the JSON configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	root.AddCommand(
		newTrainCmd(a),
		newGenerateCmd(a),
		newMergeCmd(a),
		newPruneCmd(a),
		newStatsCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newModelsCmd(a),
		newRemoveCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup loads .env, the configuration file, and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	// A missing .env file is normal; the environment is used as is.
	_ = godotenv.Load()

	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.logLevel != "" {
		cfg.Server.LogLevel = a.logLevel
	}
	level, err := parseLogLevel(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// openStore opens the database, creates the schema if needed, and prepares
// the store. Callers must call closeStore when done.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.cfg.Server.DataDir != "" {
		if err := os.MkdirAll(a.cfg.Server.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := initDB(a.cfg.Server.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err = store.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}
	st, err := store.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	st.SetLogger(a.logger)

	a.db = db
	a.store = st
	a.logger.Debug("Opened model store", "driver", sqliteDriver, "path", a.cfg.Server.DatabasePath)
	return st, nil
}

func (a *app) closeStore() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database", "error", err)
		}
		a.db = nil
	}
}
