package importer

// upsert.go builds and executes the reconciliation statement: one atomic
// INSERT ... ON CONFLICT that merges every staging row into the target and
// classifies each row's fate.
//
// Classification rides on PostgreSQL's row-versioning signal: for rows
// returned by the statement, xmax = 0 means a fresh insert and xmax != 0
// means the conflict arm updated an existing row. The conditional WHERE on
// the update arm uses IS DISTINCT FROM so rows whose non-key columns all
// match the existing row produce no update at all; they fall out of the
// RETURNING set and are counted as skipped by the caller.

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/jackc/pgx/v5"
)

// buildUpsertSQL returns the reconciliation statement for merging staging
// into target. When the target has no non-key columns, no update is ever
// possible and the conflict arm degrades to DO NOTHING, so every conflicting
// row is a skip.
func buildUpsertSQL(target, staging string, columns, primaryKey []string, schemaName string) string {
	pkSet := make(map[string]struct{}, len(primaryKey))
	for _, pk := range primaryKey {
		pkSet[pk] = struct{}{}
	}

	cols := make([]string, len(columns))
	for i, col := range columns {
		cols[i] = pgx.Identifier{col}.Sanitize()
	}
	pks := make([]string, len(primaryKey))
	for i, pk := range primaryKey {
		pks[i] = pgx.Identifier{pk}.Sanitize()
	}

	var nonPK []string
	for _, col := range columns {
		if _, ok := pkSet[col]; !ok {
			nonPK = append(nonPK, col)
		}
	}

	var conflictArm string
	if len(nonPK) == 0 {
		conflictArm = "DO NOTHING"
	} else {
		sets := make([]string, len(nonPK))
		diffs := make([]string, len(nonPK))
		for i, col := range nonPK {
			ident := pgx.Identifier{col}.Sanitize()
			sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", ident, ident)
			diffs[i] = fmt.Sprintf("t.%s IS DISTINCT FROM EXCLUDED.%s", ident, ident)
		}
		conflictArm = fmt.Sprintf("DO UPDATE SET %s WHERE %s",
			strings.Join(sets, ", "),
			strings.Join(diffs, " OR "))
	}

	return fmt.Sprintf(`WITH upserted AS (
	INSERT INTO %s AS t (%s)
	SELECT %s FROM %s
	ON CONFLICT (%s) %s
	RETURNING (xmax = 0) AS inserted
)
SELECT
	COUNT(*) FILTER (WHERE inserted) AS inserted,
	COUNT(*) FILTER (WHERE NOT inserted) AS updated
FROM upserted`,
		pgx.Identifier{schemaName, target}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(cols, ", "),
		pgx.Identifier{schemaName, staging}.Sanitize(),
		strings.Join(pks, ", "),
		conflictArm,
	)
}

// reconcile executes the upsert statement and returns the database-reported
// insert and update counts.
func reconcile(ctx context.Context, db database.Executor, target, staging string, columns, primaryKey []string, schemaName string) (inserted, updated int64, err error) {
	q := buildUpsertSQL(target, staging, columns, primaryKey, schemaName)

	if err := db.QueryRow(ctx, q).Scan(&inserted, &updated); err != nil {
		return 0, 0, fmt.Errorf("reconcile staging into %q: %w", target, err)
	}
	return inserted, updated, nil
}

// chunkToCopyRows converts one chunk of CSV records into CopyFrom rows.
// Empty cells become NULL, matching how the bulk path has always treated
// absent values and keeping IS DISTINCT FROM comparisons stable across
// re-imports.
func chunkToCopyRows(chunk [][]string) [][]any {
	rows := make([][]any, len(chunk))
	for i, record := range chunk {
		row := make([]any, len(record))
		for j, cell := range record {
			if cell == "" {
				row[j] = nil
			} else {
				row[j] = cell
			}
		}
		rows[i] = row
	}
	return rows
}
