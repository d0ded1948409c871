// Command tablegen writes the bootstrap DDL for the coordination tables
// (migration ledger and lease rows) so deployments that manage their own
// schema can apply it out of band instead of relying on EnsureSchema.
//
// Usage:
//
//	go run github.com/daybook/migrate-orchestrator/cmd/tablegen -dialect postgres -output migrations
//	go run github.com/daybook/migrate-orchestrator/cmd/tablegen -dialect mysql -output migrations
//	go run github.com/daybook/migrate-orchestrator/cmd/tablegen -dialect sqlite3 -output migrations
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/daybook/migrate-orchestrator/store/sqlstore"
)

func main() {
	var (
		dialectName  = flag.String("dialect", "postgres", "SQL dialect: postgres, mysql, or sqlite3")
		outputFolder = flag.String("output", "migrations", "Output folder for the DDL file")
		filename     = flag.String("filename", "", "Output filename (default: timestamp-based)")
		ledgerTable  = flag.String("ledger-table", "", "Name of the ledger table")
		leaseTable   = flag.String("lease-table", "", "Name of the lease table")
	)
	flag.Parse()

	if err := generate(*dialectName, *outputFolder, *filename, *ledgerTable, *leaseTable); err != nil {
		fmt.Fprintf(os.Stderr, "tablegen: %v\n", err)
		os.Exit(1)
	}
}

func generate(dialectName, outputFolder, filename, ledgerTable, leaseTable string) error {
	dialect, err := sqlstore.DialectForDriver(dialectName)
	if err != nil {
		return err
	}

	tables := sqlstore.DefaultTableConfig()
	if ledgerTable != "" {
		tables.LedgerTable = ledgerTable
	}
	if leaseTable != "" {
		tables.LeaseTable = leaseTable
	}
	if err := tables.Validate(); err != nil {
		return err
	}

	if filename == "" {
		filename = fmt.Sprintf("%s_init_migration_coordination.sql", time.Now().Format("20060102150405"))
	}

	if err := os.MkdirAll(outputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(outputFolder, filename)
	if err := os.WriteFile(outputPath, []byte(sqlstore.MigrationUp(dialect, tables)), 0o600); err != nil {
		return fmt.Errorf("failed to write DDL file: %w", err)
	}

	fmt.Printf("wrote %s\n", outputPath)
	return nil
}
