package schema

// views.go refreshes materialized views in dependency order.
//
// A view reading from another materialized view must be refreshed after its
// dependency, so views are ordered by the number of materialized views they
// depend on. Each refresh runs as its own statement (and therefore its own
// transaction), so one failing view never blocks the rest.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// RefreshResult reports per-view success and failure of a refresh pass.
type RefreshResult struct {
	Refreshed []string
	Failed    []string
	Errors    []string
}

// Success reports whether at least one view refreshed and none failed.
func (r RefreshResult) Success() bool {
	return len(r.Failed) == 0 && len(r.Refreshed) > 0
}

// TotalViews is the number of views attempted.
func (r RefreshResult) TotalViews() int {
	return len(r.Refreshed) + len(r.Failed)
}

// MaterializedViews returns all materialized views in schemaName ordered by
// dependency depth: views with no materialized-view dependencies first.
func (m *Manager) MaterializedViews(ctx context.Context, schemaName string) ([]string, error) {
	schemaName = normalizeSchema(schemaName)

	const q = `
		WITH view_dependencies AS (
			SELECT
				m.matviewname AS viewname,
				COUNT(DISTINCT dep.relname) AS dep_count
			FROM pg_matviews m
			LEFT JOIN pg_depend d ON d.objid = (
				SELECT c.oid FROM pg_class c
				JOIN pg_namespace n ON n.oid = c.relnamespace
				WHERE c.relname = m.matviewname
				AND n.nspname = m.schemaname
			)
			LEFT JOIN pg_rewrite r ON r.oid = d.objid
			LEFT JOIN pg_class dep ON dep.oid = d.refobjid AND dep.relkind = 'm'
			WHERE m.schemaname = $1
			GROUP BY m.matviewname
		)
		SELECT viewname
		FROM view_dependencies
		ORDER BY dep_count, viewname`

	rows, err := m.db.Query(ctx, q, schemaName)
	if err != nil {
		return nil, &OperationError{Op: "list materialized views", Table: schemaName, Err: err}
	}
	defer rows.Close()

	var views []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &OperationError{Op: "list materialized views", Table: schemaName, Err: err}
		}
		views = append(views, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &OperationError{Op: "list materialized views", Table: schemaName, Err: err}
	}

	return views, nil
}

// RefreshMaterializedViews refreshes every materialized view in schemaName
// in dependency order. Failures are collected per view; the pass continues
// past them.
func (m *Manager) RefreshMaterializedViews(ctx context.Context, schemaName string) (RefreshResult, error) {
	schemaName = normalizeSchema(schemaName)
	var result RefreshResult

	views, err := m.MaterializedViews(ctx, schemaName)
	if err != nil {
		return result, err
	}
	if len(views) == 0 {
		slog.Info("no materialized views to refresh", "schema", schemaName)
		return result, nil
	}

	for _, view := range views {
		q := fmt.Sprintf("REFRESH MATERIALIZED VIEW %s", pgx.Identifier{schemaName, view}.Sanitize())
		if _, err := m.db.Exec(ctx, q); err != nil {
			msg := fmt.Sprintf("refresh view %q: %v", view, err)
			result.Failed = append(result.Failed, view)
			result.Errors = append(result.Errors, msg)
			slog.Error("materialized view refresh failed", "view", view, "error", err)
			continue
		}
		result.Refreshed = append(result.Refreshed, view)
		slog.Info("materialized view refreshed", "view", view)
	}

	return result, nil
}
