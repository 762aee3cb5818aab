package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/pthm/rlsguard"
	"github.com/pthm/rlsguard/internal/cli"
	"github.com/pthm/rlsguard/pkg/database"
	"github.com/pthm/rlsguard/pkg/model"
	"github.com/pthm/rlsguard/pkg/parser"
)

// resolveDSN gets the database DSN from flag or config. An empty DSN with a
// nil error means no database is configured.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}
	if !cfg.HasDatabase() {
		return "", nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	return dsn, nil
}

// openDatabase connects with the configured driver. It returns a nil
// connection when no database is configured so analysis runs offline.
func openDatabase(ctx context.Context, flagDSN string) (database.Connection, func(), error) {
	dsn, err := resolveDSN(flagDSN)
	if err != nil {
		return nil, nil, err
	}
	if dsn == "" {
		logger.Info("no database configured, analyzing offline")
		return nil, func() {}, nil
	}

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, nil, cli.DBConnectError("connecting to database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, cli.DBConnectError("connecting to database", err)
	}
	logger.Debug("connected to database", "driver", cfg.Database.Driver)
	return database.NewPostgres(db), func() { _ = db.Close() }, nil
}

// loadFeed reads the feed named by flag or config.
func loadFeed(flagFeed string) ([]model.RawWarning, error) {
	path := resolveString(flagFeed, cfg.Feed)
	if path == "" {
		return nil, cli.ConfigError("linter feed is required (use --feed or set feed in config)", nil)
	}
	warnings, err := parser.ReadFeed(path)
	if err != nil {
		return nil, cli.FeedParseError(fmt.Sprintf("reading feed %s", path), err)
	}
	logger.Debug("loaded feed", "path", path, "findings", len(warnings))
	return warnings, nil
}

type pipelineFlags struct {
	db          string
	feed        string
	noValidate  bool
	discover    []string
	concurrency int
}

// runPipeline connects, loads the feed and runs the pipeline. generate
// selects Run over Analyze.
func runPipeline(ctx context.Context, f pipelineFlags, generate bool) (*rlsguard.Result, error) {
	warnings, err := loadFeed(f.feed)
	if err != nil {
		return nil, err
	}
	conn, closeDB, err := openDatabase(ctx, f.db)
	if err != nil {
		return nil, err
	}
	defer closeDB()

	discover := f.discover
	if len(discover) == 0 {
		discover = cfg.Analyze.Discover
	}
	validate := cfg.Validate.Enabled && !f.noValidate
	if validate && conn == nil {
		logger.Warn("validation needs a database, policy rewrites will be rejected")
	}

	p := rlsguard.New(conn,
		rlsguard.WithLogger(logger),
		rlsguard.WithConcurrency(resolveInt(f.concurrency, cfg.Analyze.Concurrency)),
		rlsguard.WithValidation(validate, cfg.UserContexts()...),
		rlsguard.WithCatalogDiscovery(discover...),
	)

	var res *rlsguard.Result
	if generate {
		res, err = p.Run(ctx, warnings)
	} else {
		res, err = p.Analyze(ctx, warnings)
	}
	if err != nil {
		return nil, cli.GeneralError("running analysis", err)
	}
	return res, nil
}
