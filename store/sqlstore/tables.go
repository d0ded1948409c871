package sqlstore

import (
	"fmt"
	"regexp"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// TableConfig configures the table names used by the store.
type TableConfig struct {
	// LedgerTable is the name of the table storing ledger entries.
	LedgerTable string

	// LeaseTable is the name of the table storing lease rows.
	LeaseTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		LedgerTable: "migration_ledger",
		LeaseTable:  "migration_leases",
	}
}

// Validate checks the table names against the identifier rules.
func (c TableConfig) Validate() error {
	if err := validateIdentifier(c.LedgerTable, "LedgerTable"); err != nil {
		return err
	}
	return validateIdentifier(c.LeaseTable, "LeaseTable")
}
