// Package importer implements the file-to-table ingestion pipeline.
//
// One import streams a delimited file in bounded-size chunks into an
// ephemeral staging table, then reconciles staging into the target with a
// single atomic upsert statement that classifies every row as inserted,
// updated, or unchanged. The staging table is dropped unconditionally,
// whether the import succeeded or failed at any stage.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/JonMunkholm/ingestd/internal/logging"
	"github.com/JonMunkholm/ingestd/internal/schema"
	"github.com/jackc/pgx/v5"
)

// DefaultChunkSize is the number of rows streamed per bulk-load chunk.
const DefaultChunkSize = 10000

// Options describe one import invocation.
type Options struct {
	// FilePath is the source file; it must exist and be readable as text
	// in the declared encoding.
	FilePath string
	// Table is the target table name.
	Table string
	// Schema is the target schema (default "public").
	Schema string
	// PrimaryKey is the ordered set of key columns used for conflict
	// detection. Required.
	PrimaryKey []string
	// ColumnMapping optionally translates source column names to target
	// column names before any table is created or row loaded.
	ColumnMapping map[string]string
	// RebuildTable truncates the target before loading.
	RebuildTable bool
	// ChunkSize is rows per bulk-load chunk (default DefaultChunkSize).
	ChunkSize int
	// Delimiter, Encoding, SkipRows are the source format knobs.
	Delimiter rune
	Encoding  string
	SkipRows  int
	// DatabaseURL is the target connection string. Required; imports never
	// fall back to a process-wide default endpoint.
	DatabaseURL string
}

// ErrMissingPrimaryKey is returned before any database interaction when no
// key column was supplied.
var ErrMissingPrimaryKey = errors.New("primary key is required for upsert imports")

// ErrFileNotFound is returned before any database interaction when the
// source file does not exist.
var ErrFileNotFound = errors.New("source file not found")

// Importer runs imports. The zero value is not usable; construct with New.
type Importer struct {
	connect func(ctx context.Context, dsn string) (database.Session, error)
}

// New returns an Importer that opens direct connections to each target.
func New() *Importer {
	return &Importer{connect: database.Connect}
}

// Run executes one import to completion and returns its result.
//
// The earliest validation failures (missing file, empty primary key) are
// returned as an error before a result is meaningfully populated. Every
// in-flight failure after that point is caught at this boundary, converted
// to a message on the result's error list, and the result is returned with
// a nil error; Run never panics past itself for row-level problems.
func (im *Importer) Run(ctx context.Context, opts Options) (*Result, error) {
	if len(opts.PrimaryKey) == 0 {
		return nil, ErrMissingPrimaryKey
	}
	if _, err := os.Stat(opts.FilePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, opts.FilePath)
	}

	if opts.Schema == "" {
		opts.Schema = schema.DefaultSchema
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	result := &Result{FilePath: opts.FilePath, Table: opts.Table}
	logger := logging.ForImport(opts.FilePath, opts.Table)
	logger.Info("import starting", "schema", opts.Schema, "primary_key", opts.PrimaryKey)

	sess, err := im.connect(ctx, opts.DatabaseURL)
	if err != nil {
		result.addError(err)
		return result, nil
	}
	defer sess.Close(context.WithoutCancel(ctx))

	if err := im.run(ctx, sess, opts, result); err != nil {
		logger.Error("import failed", "error", err)
		result.addError(err)
		return result, nil
	}

	logger.Info("import completed",
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
	)
	return result, nil
}

// run drives the pipeline over one open session. Any returned error marks
// the import failed; staging cleanup has already been attempted by then.
func (im *Importer) run(ctx context.Context, sess database.Session, opts Options, result *Result) error {
	logger := logging.ForImport(opts.FilePath, opts.Table)
	mgr := schema.NewManager(sess)

	reader, err := OpenFile(opts.FilePath, ReaderOptions{
		Delimiter: opts.Delimiter,
		Encoding:  opts.Encoding,
		SkipRows:  opts.SkipRows,
	})
	if err != nil {
		return err
	}
	defer reader.Close()

	// The mapping is applied before any DDL so the created target (and the
	// staging clone) always carry the final column names.
	columns := applyColumnMapping(reader.Header(), opts.ColumnMapping)

	exists, err := mgr.TableExists(ctx, opts.Table, opts.Schema)
	if err != nil {
		return err
	}
	if !exists {
		logger.Info("target table does not exist, creating", "columns", len(columns))
		if err := mgr.CreatePermissiveTable(ctx, opts.Table, columns, opts.PrimaryKey, opts.Schema); err != nil {
			return err
		}
	}

	tableColumns, err := mgr.Columns(ctx, opts.Table, opts.Schema)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(tableColumns))
	for _, col := range tableColumns {
		have[col] = struct{}{}
	}
	for _, pk := range opts.PrimaryKey {
		if _, ok := have[pk]; !ok {
			return fmt.Errorf("primary key column %q not found in table %q (columns: %v)", pk, opts.Table, tableColumns)
		}
	}

	// Additive evolution: columns new in this file are added to the target
	// before the staging clone so the load never fails on an unknown column.
	added, err := mgr.AddMissingColumns(ctx, opts.Table, columns, opts.Schema)
	if err != nil {
		return err
	}
	if len(added) > 0 {
		logger.Info("added new columns to target", "columns", added)
	}

	if opts.RebuildTable {
		logger.Info("rebuild requested, truncating target")
		if err := mgr.Truncate(ctx, opts.Table, opts.Schema); err != nil {
			return err
		}
	}

	staging, err := mgr.CreateStagingTable(ctx, opts.Table, opts.Schema)
	if err != nil {
		return err
	}
	logger.Info("staging table created", "staging_table", staging)

	// The staging table never survives an import invocation. Cleanup runs
	// on every exit path, detached from cancellation, and its own failures
	// are logged without masking the import outcome. A leaked table is
	// safe to remove later; the name is logged for that purpose.
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := mgr.DropStagingTable(cleanupCtx, staging, opts.Schema); err != nil {
			logger.Warn("failed to drop staging table, leaving for manual cleanup",
				"staging_table", staging, "error", err)
		}
	}()

	loaded, err := im.loadStaging(ctx, sess, reader, staging, columns, opts)
	if err != nil {
		return err
	}
	logger.Info("staging load complete", "rows", loaded)

	inserted, updated, err := reconcile(ctx, sess, opts.Table, staging, columns, opts.PrimaryKey, opts.Schema)
	if err != nil {
		return err
	}

	result.setCounts(loaded, inserted, updated)
	return nil
}

// loadStaging streams the file into the staging table chunk by chunk inside
// one transaction, committed only after every chunk loaded. A mid-stream
// failure rolls the whole load back so partial staging data is never visible
// to reconciliation.
func (im *Importer) loadStaging(ctx context.Context, sess database.Session, reader *FileReader, staging string, columns []string, opts Options) (int64, error) {
	tx, err := sess.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin staging load: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	table := pgx.Identifier{opts.Schema, staging}

	var total int64
	for {
		chunk, err := reader.ReadChunk(opts.ChunkSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}

		n, err := tx.CopyFrom(ctx, table, columns, pgx.CopyFromRows(chunkToCopyRows(chunk)))
		if err != nil {
			return 0, fmt.Errorf("bulk load chunk into staging: %w", err)
		}
		total += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit staging load: %w", err)
	}
	return total, nil
}
