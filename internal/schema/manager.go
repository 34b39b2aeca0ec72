// Package schema implements table management for import targets: existence
// checks, column introspection, permissive table creation, staging-table
// lifecycle, truncation, and materialized view refresh.
//
// Tables created by this package are maximally permissive: every column is
// TEXT. The same file may be re-imported with slightly different formatting,
// and a type mismatch must never abort an import; typed access belongs in
// views layered on top.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultSchema is the schema used when callers do not specify one.
const DefaultSchema = "public"

// ErrTableNotFound is returned when an operation requires a table that does
// not exist.
var ErrTableNotFound = errors.New("table does not exist")

// OperationError wraps a DDL/DML failure during a schema operation.
type OperationError struct {
	Op    string
	Table string
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("schema %s %q: %v", e.Op, e.Table, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// Manager performs schema operations over one acquired connection or
// transaction.
type Manager struct {
	db database.Executor
}

// NewManager returns a Manager bound to db.
func NewManager(db database.Executor) *Manager {
	return &Manager{db: db}
}

func normalizeSchema(schemaName string) string {
	if schemaName == "" {
		return DefaultSchema
	}
	return schemaName
}

// TableExists reports whether table exists in schemaName.
func (m *Manager) TableExists(ctx context.Context, table, schemaName string) (bool, error) {
	schemaName = normalizeSchema(schemaName)

	const q = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = $1
			AND table_name = $2
		)`

	var exists bool
	if err := m.db.QueryRow(ctx, q, schemaName, table).Scan(&exists); err != nil {
		return false, &OperationError{Op: "existence check", Table: table, Err: err}
	}
	return exists, nil
}

// Columns returns the table's column names in ordinal order. Returns
// ErrTableNotFound if the table is absent.
func (m *Manager) Columns(ctx context.Context, table, schemaName string) ([]string, error) {
	schemaName = normalizeSchema(schemaName)

	exists, err := m.TableExists(ctx, table, schemaName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, schemaName, table)
	}

	const q = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1
		AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := m.db.Query(ctx, q, schemaName, table)
	if err != nil {
		return nil, &OperationError{Op: "introspect columns", Table: table, Err: err}
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &OperationError{Op: "introspect columns", Table: table, Err: err}
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &OperationError{Op: "introspect columns", Table: table, Err: err}
	}

	return columns, nil
}

// CreatePermissiveTable creates table with every column as TEXT and a
// mandatory primary key constraint. It is a no-op if the table already
// exists. The primary key must be a subset of columns; this is validated
// before any DDL executes.
func (m *Manager) CreatePermissiveTable(ctx context.Context, table string, columns, primaryKey []string, schemaName string) error {
	schemaName = normalizeSchema(schemaName)

	if len(columns) == 0 {
		return fmt.Errorf("cannot create table %q with empty column list", table)
	}
	if len(primaryKey) == 0 {
		return fmt.Errorf("cannot create table %q without a primary key", table)
	}
	for _, col := range columns {
		if col == "" {
			return fmt.Errorf("table %q has an empty column name", table)
		}
	}
	colSet := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		colSet[col] = struct{}{}
	}
	for _, pk := range primaryKey {
		if _, ok := colSet[pk]; !ok {
			return fmt.Errorf("primary key column %q not in column list for table %q", pk, table)
		}
	}

	defs := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		defs = append(defs, pgx.Identifier{col}.Sanitize()+" TEXT")
	}
	pkCols := make([]string, len(primaryKey))
	for i, pk := range primaryKey {
		pkCols[i] = pgx.Identifier{pk}.Sanitize()
	}
	defs = append(defs, "PRIMARY KEY ("+strings.Join(pkCols, ", ")+")")

	q := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pgx.Identifier{schemaName, table}.Sanitize(),
		strings.Join(defs, ", "))

	if _, err := m.db.Exec(ctx, q); err != nil {
		return &OperationError{Op: "create table", Table: table, Err: err}
	}
	return nil
}

// AddMissingColumns adds TEXT columns for names not yet present on the
// table. Returns the columns actually added. Schema evolution is additive
// only; existing columns are never altered or dropped.
func (m *Manager) AddMissingColumns(ctx context.Context, table string, columns []string, schemaName string) ([]string, error) {
	schemaName = normalizeSchema(schemaName)

	existing, err := m.Columns(ctx, table, schemaName)
	if err != nil {
		return nil, err
	}

	have := make(map[string]struct{}, len(existing))
	for _, col := range existing {
		have[col] = struct{}{}
	}

	var added []string
	for _, col := range columns {
		if _, ok := have[col]; ok {
			continue
		}
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT",
			pgx.Identifier{schemaName, table}.Sanitize(),
			pgx.Identifier{col}.Sanitize())
		if _, err := m.db.Exec(ctx, q); err != nil {
			return added, &OperationError{Op: "add column", Table: table, Err: err}
		}
		added = append(added, col)
	}

	return added, nil
}

// StagingName generates a unique staging table name for target. The random
// suffix guarantees that concurrent imports into the same target never
// collide on staging identity.
func StagingName(target string) string {
	return fmt.Sprintf("staging_%s_%s", target, uuid.NewString()[:8])
}

// CreateStagingTable creates an ephemeral structural clone of target
// (columns, types, indexes, constraints) under a freshly generated unique
// name and returns that name. The target must already exist.
func (m *Manager) CreateStagingTable(ctx context.Context, target, schemaName string) (string, error) {
	schemaName = normalizeSchema(schemaName)

	exists, err := m.TableExists(ctx, target, schemaName)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("cannot create staging table: %w: %s.%s", ErrTableNotFound, schemaName, target)
	}

	staging := StagingName(target)
	q := fmt.Sprintf("CREATE TABLE %s (LIKE %s INCLUDING ALL)",
		pgx.Identifier{schemaName, staging}.Sanitize(),
		pgx.Identifier{schemaName, target}.Sanitize())

	if _, err := m.db.Exec(ctx, q); err != nil {
		return "", &OperationError{Op: "create staging table", Table: target, Err: err}
	}
	return staging, nil
}

// DropStagingTable drops a staging table. Idempotent: no error if the table
// is already absent. Callers treat failures here as non-fatal cleanup noise.
func (m *Manager) DropStagingTable(ctx context.Context, staging, schemaName string) error {
	schemaName = normalizeSchema(schemaName)

	q := fmt.Sprintf("DROP TABLE IF EXISTS %s", pgx.Identifier{schemaName, staging}.Sanitize())
	if _, err := m.db.Exec(ctx, q); err != nil {
		return &OperationError{Op: "drop staging table", Table: staging, Err: err}
	}
	return nil
}

// Truncate removes all rows from table while preserving its structure,
// dependent views, and triggers. The table must exist.
func (m *Manager) Truncate(ctx context.Context, table, schemaName string) error {
	schemaName = normalizeSchema(schemaName)

	exists, err := m.TableExists(ctx, table, schemaName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("cannot truncate: %w: %s.%s", ErrTableNotFound, schemaName, table)
	}

	q := fmt.Sprintf("TRUNCATE TABLE %s", pgx.Identifier{schemaName, table}.Sanitize())
	if _, err := m.db.Exec(ctx, q); err != nil {
		return &OperationError{Op: "truncate", Table: table, Err: err}
	}
	return nil
}
