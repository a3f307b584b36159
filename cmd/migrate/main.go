// Command migrate applies the embedded Postgres schema used by
// STORE_BACKEND=postgres and the processed_events idempotency table.
//
//	migrate            apply all pending migrations
//	migrate down       roll back one migration
//	migrate force <v>  mark version v as applied after a failed run
package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	appconfig "github.com/wolfman30/clinic-automation/internal/config"
	appmigrations "github.com/wolfman30/clinic-automation/migrations"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	databaseURL := strings.TrimSpace(cfg.DatabaseURL)
	if databaseURL == "" {
		fatal(logger, "DATABASE_URL is required", nil)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		fatal(logger, "open db", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		fatal(logger, "ping db", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		fatal(logger, "db driver", err)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		fatal(logger, "source driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		fatal(logger, "create migrator", err)
	}
	defer func() { _, _ = m.Close() }()

	var cmd string
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "force":
		if len(os.Args) < 3 {
			fatal(logger, "usage: migrate force <version>", nil)
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fatal(logger, "invalid version", err)
		}
		if err := m.Force(version); err != nil {
			fatal(logger, "force version", err)
		}
		logger.Info("forced migration version", "version", version)
	case "down":
		if err := m.Steps(-1); err != nil {
			fatal(logger, "migrate down", err)
		}
		logger.Info("rolled back one migration")
	case "", "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fatal(logger, "migrate up", err)
		}
		version, dirty, _ := m.Version()
		logger.Info("migrations complete", "version", version, "dirty", dirty)
	default:
		fatal(logger, "unknown command "+strconv.Quote(cmd), nil)
	}
}

func fatal(logger *logging.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, "error", err)
	} else {
		logger.Error(msg)
	}
	os.Exit(1)
}
