// Command migrator is the startup gate run by every replica before its
// application process starts. It loads the step definitions, coordinates
// with concurrently starting replicas through the shared store, and exits
// zero once this replica's role is ready. Fatal conditions exit non-zero so
// the deployment supervisor can restart or alert.
//
// Usage:
//
//	migrator -config /etc/migrator.toml
//	MIGRATOR_ROLE=celery-worker migrator -config /etc/migrator.toml
//	migrator -config /etc/migrator.toml -healthcheck
//
// The -healthcheck mode runs the role's readiness probe and exits 0/1; it
// is intended as the container health check command.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/config"
	"github.com/daybook/migrate-orchestrator/dispatcher"
	"github.com/daybook/migrate-orchestrator/engine"
	"github.com/daybook/migrate-orchestrator/engine/schema"
	"github.com/daybook/migrate-orchestrator/engine/structural"
	"github.com/daybook/migrate-orchestrator/lock"
	"github.com/daybook/migrate-orchestrator/logging"
	"github.com/daybook/migrate-orchestrator/metrics"
	"github.com/daybook/migrate-orchestrator/plan"
	"github.com/daybook/migrate-orchestrator/readiness"
	"github.com/daybook/migrate-orchestrator/steps"
	"github.com/daybook/migrate-orchestrator/store/sqlstore"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to the TOML configuration file")
		healthcheck = flag.Bool("healthcheck", false, "Run the role's readiness probe and exit")
	)
	flag.Parse()

	if err := run(*configPath, *healthcheck); err != nil {
		fmt.Fprintf(os.Stderr, "migrator: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, healthcheck bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cfg.Logging.Level)
	role := cfg.MigratorRole()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if healthcheck {
		return runHealthcheck(ctx, role, cfg)
	}

	// The admin CLI skips coordination entirely: it neither migrates nor
	// waits on the ledger.
	if !role.BlocksOnLedger() {
		disp := dispatcher.New(dispatcher.Config{
			Role:      role,
			ReplicaID: cfg.ReplicaID,
			Logger:    logger,
		})
		return disp.Run(ctx)
	}

	dialect, err := sqlstore.DialectForDriver(cfg.Store.Driver)
	if err != nil {
		return err
	}

	db, err := sql.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("failed to open coordination store: %w", err)
	}
	defer func() { _ = db.Close() }()

	tables := sqlstore.DefaultTableConfig()
	if cfg.Store.LedgerTable != "" {
		tables.LedgerTable = cfg.Store.LedgerTable
	}
	if cfg.Store.LeaseTable != "" {
		tables.LeaseTable = cfg.Store.LeaseTable
	}

	st := sqlstore.NewWithConfig(db, dialect, tables)
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	stepDefs, err := steps.Load(cfg.Steps.StructuralManifest, cfg.Steps.SchemaDir)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(role)
	}

	disp := dispatcher.New(dispatcher.Config{
		Role:      role,
		ReplicaID: cfg.ReplicaID,
		Ledger:    st,
		Locker: lock.New(lock.Config{
			Store:          st,
			LeaseDuration:  cfg.Lease.Duration.Duration,
			AcquireTimeout: cfg.Lease.AcquireTimeout.Duration,
			InitialBackoff: cfg.Lease.InitialBackoff.Duration,
			MaxBackoff:     cfg.Lease.MaxBackoff.Duration,
			Logger:         logger,
		}),
		Resolver: plan.New(plan.Config{Ledger: st, Logger: logger}),
		Adapters: map[migrator.EngineKind]engine.Adapter{
			migrator.EngineStructural: structural.New(structural.Config{Logger: logger}),
			migrator.EngineSchema:     schema.New(schema.Config{DB: db, Logger: logger}),
		},
		Steps:         stepDefs,
		PollInterval:  cfg.Ledger.PollInterval.Duration,
		MaxLedgerWait: cfg.Ledger.MaxWait.Duration,
		Logger:        logger,
		Collector:     collector,
	})

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, disp.State)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := disp.Run(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "replica ready", "role", role, "replicaID", disp.ReplicaID())
	return nil
}

func runHealthcheck(ctx context.Context, role migrator.Role, cfg config.Config) error {
	check, err := readiness.ForRole(role, readiness.Config{
		LivenessURL: cfg.Readiness.LivenessURL,
		BrokerURL:   cfg.Readiness.BrokerURL,
		PIDFilePath: cfg.Readiness.PIDFilePath,
	})
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return check.Healthy(probeCtx)
}
