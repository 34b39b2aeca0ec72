package importer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow scripts one QueryRow result.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeRows serves single-column string results.
type fakeRows struct {
	values []string
	idx    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.values[r.idx-1]
	return nil
}
func (r *fakeRows) Values() ([]any, error) { return []any{r.values[r.idx-1]}, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

// fakeTx records CopyFrom traffic and transaction outcome.
type fakeTx struct {
	copyRows   [][]any
	copyErr    error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return pgx.ErrTxClosed
}
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	if t.copyErr != nil {
		return 0, t.copyErr
	}
	var n int64
	for rowSrc.Next() {
		values, err := rowSrc.Values()
		if err != nil {
			return n, err
		}
		t.copyRows = append(t.copyRows, values)
		n++
	}
	return n, rowSrc.Err()
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &fakeRows{}, nil
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{scan: func(dest ...any) error { return nil }}
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

// fakeSession scripts the database side of one import.
type fakeSession struct {
	tableExists  bool
	columns      []string
	inserted     int64
	updated      int64
	reconcileErr error
	execErr      func(sql string) error

	execSQL []string
	tx      *fakeTx
	closed  bool
}

func (s *fakeSession) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	s.execSQL = append(s.execSQL, sql)
	if s.execErr != nil {
		if err := s.execErr(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	if strings.HasPrefix(sql, "CREATE TABLE") {
		s.tableExists = true
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (s *fakeSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &fakeRows{values: s.columns}, nil
}

func (s *fakeSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "information_schema.tables"):
		return fakeRow{scan: func(dest ...any) error {
			*(dest[0].(*bool)) = s.tableExists
			return nil
		}}
	case strings.Contains(sql, "WITH upserted"):
		return fakeRow{scan: func(dest ...any) error {
			if s.reconcileErr != nil {
				return s.reconcileErr
			}
			*(dest[0].(*int64)) = s.inserted
			*(dest[1].(*int64)) = s.updated
			return nil
		}}
	default:
		return fakeRow{scan: func(dest ...any) error { return nil }}
	}
}

func (s *fakeSession) Begin(ctx context.Context) (pgx.Tx, error) {
	if s.tx == nil {
		s.tx = &fakeTx{}
	}
	return s.tx, nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

func (s *fakeSession) execContaining(substr string) bool {
	for _, sql := range s.execSQL {
		if strings.Contains(sql, substr) {
			return true
		}
	}
	return false
}

func newTestImporter(sess *fakeSession) *Importer {
	return &Importer{connect: func(ctx context.Context, dsn string) (database.Session, error) {
		return sess, nil
	}}
}

func TestRun_MissingPrimaryKey(t *testing.T) {
	im := New()
	_, err := im.Run(context.Background(), Options{FilePath: "x.csv", Table: "t"})
	if !errors.Is(err, ErrMissingPrimaryKey) {
		t.Errorf("Run() error = %v, want ErrMissingPrimaryKey", err)
	}
}

func TestRun_FileNotFound(t *testing.T) {
	im := New()
	_, err := im.Run(context.Background(), Options{
		FilePath:   "/nonexistent/file.csv",
		Table:      "t",
		PrimaryKey: []string{"id"},
	})
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Run() error = %v, want ErrFileNotFound", err)
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("id,name\n1,alpha\n"))

	im := &Importer{connect: func(ctx context.Context, dsn string) (database.Session, error) {
		return nil, errors.New("connection refused")
	}}

	result, err := im.Run(context.Background(), Options{
		FilePath:    path,
		Table:       "t",
		PrimaryKey:  []string{"id"},
		DatabaseURL: "postgres://bad",
	})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil (in-flight failures land on the result)", err)
	}
	if !result.HasErrors() {
		t.Error("result should carry the connect failure")
	}
	if result.Success() {
		t.Error("Success() = true, want false")
	}
}

func TestRun_Success(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("id,name\n1,alpha\n2,\n3,gamma\n"))
	sess := &fakeSession{
		tableExists: true,
		columns:     []string{"id", "name"},
		inserted:    2,
		updated:     1,
	}

	result, err := newTestImporter(sess).Run(context.Background(), Options{
		FilePath:    path,
		Table:       "items",
		PrimaryKey:  []string{"id"},
		DatabaseURL: "postgres://target",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.Success() {
		t.Fatalf("Success() = false, errors: %v", result.Errors)
	}
	if result.Inserted != 2 || result.Updated != 1 || result.Skipped != 0 {
		t.Errorf("counts = %d/%d/%d, want 2/1/0", result.Inserted, result.Updated, result.Skipped)
	}

	if len(sess.tx.copyRows) != 3 {
		t.Fatalf("copied rows = %d, want 3", len(sess.tx.copyRows))
	}
	// Empty cell loads as NULL
	if sess.tx.copyRows[1][1] != nil {
		t.Errorf("empty cell copied as %v, want nil", sess.tx.copyRows[1][1])
	}
	if !sess.tx.committed {
		t.Error("staging load transaction not committed")
	}

	if !sess.execContaining("LIKE") {
		t.Error("staging table was never created")
	}
	if !sess.execContaining("DROP TABLE IF EXISTS") {
		t.Error("staging table was never dropped")
	}
	if sess.execContaining("TRUNCATE") {
		t.Error("target truncated without rebuild_table")
	}
	if !sess.closed {
		t.Error("session not closed")
	}
}

func TestRun_CreatesMissingTarget(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("id,name\n1,alpha\n"))
	sess := &fakeSession{
		tableExists: false,
		columns:     []string{"id", "name"},
		inserted:    1,
	}

	result, err := newTestImporter(sess).Run(context.Background(), Options{
		FilePath:    path,
		Table:       "items",
		PrimaryKey:  []string{"id"},
		DatabaseURL: "postgres://target",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Success() = false, errors: %v", result.Errors)
	}

	if !sess.execContaining("CREATE TABLE IF NOT EXISTS") {
		t.Error("missing target was not created")
	}
	if !sess.execContaining("PRIMARY KEY") {
		t.Error("created target has no primary key constraint")
	}
}

func TestRun_AppliesColumnMapping(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("CustNo,Name\n1,alpha\n"))
	sess := &fakeSession{
		tableExists: false,
		columns:     []string{"customer_id", "Name"},
		inserted:    1,
	}

	result, err := newTestImporter(sess).Run(context.Background(), Options{
		FilePath:      path,
		Table:         "customers",
		PrimaryKey:    []string{"customer_id"},
		ColumnMapping: map[string]string{"CustNo": "customer_id"},
		DatabaseURL:   "postgres://target",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Success() = false, errors: %v", result.Errors)
	}

	// The created table must carry the mapped name, not the source name
	if !sess.execContaining(`"customer_id"`) {
		t.Error("mapped column name missing from DDL")
	}
	if sess.execContaining(`"CustNo"`) {
		t.Error("source column name leaked into DDL")
	}
}

func TestRun_AddsNewColumns(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("id,name\n1,alpha\n"))
	sess := &fakeSession{
		tableExists: true,
		columns:     []string{"id"}, // target predates the name column
		inserted:    1,
	}

	result, err := newTestImporter(sess).Run(context.Background(), Options{
		FilePath:    path,
		Table:       "items",
		PrimaryKey:  []string{"id"},
		DatabaseURL: "postgres://target",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Success() = false, errors: %v", result.Errors)
	}

	if !sess.execContaining(`ADD COLUMN "name" TEXT`) {
		t.Error("new file column not added to the target")
	}
}

func TestRun_RebuildTruncates(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("id,name\n1,alpha\n"))
	sess := &fakeSession{
		tableExists: true,
		columns:     []string{"id", "name"},
		inserted:    1,
	}

	_, err := newTestImporter(sess).Run(context.Background(), Options{
		FilePath:     path,
		Table:        "items",
		PrimaryKey:   []string{"id"},
		RebuildTable: true,
		DatabaseURL:  "postgres://target",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !sess.execContaining("TRUNCATE TABLE") {
		t.Error("rebuild_table did not truncate the target")
	}
}

func TestRun_PrimaryKeyNotInTable(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("id,name\n1,alpha\n"))
	sess := &fakeSession{
		tableExists: true,
		columns:     []string{"name"}, // no id column
	}

	result, err := newTestImporter(sess).Run(context.Background(), Options{
		FilePath:    path,
		Table:       "items",
		PrimaryKey:  []string{"id"},
		DatabaseURL: "postgres://target",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.HasErrors() {
		t.Fatal("result should carry the missing key column error")
	}

	// Validation fails before any staging table exists
	if sess.execContaining("LIKE") {
		t.Error("staging table created despite failed validation")
	}
}

func TestRun_CopyFailureDropsStaging(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("id,name\n1,alpha\n"))
	sess := &fakeSession{
		tableExists: true,
		columns:     []string{"id", "name"},
		tx:          &fakeTx{copyErr: errors.New("copy rejected")},
	}

	result, err := newTestImporter(sess).Run(context.Background(), Options{
		FilePath:    path,
		Table:       "items",
		PrimaryKey:  []string{"id"},
		DatabaseURL: "postgres://target",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.HasErrors() {
		t.Fatal("result should carry the copy failure")
	}

	if !sess.tx.rolledBack {
		t.Error("failed staging load not rolled back")
	}
	if !sess.execContaining("DROP TABLE IF EXISTS") {
		t.Error("staging table not dropped after copy failure")
	}
}

func TestRun_ReconcileFailureDropsStaging(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("id,name\n1,alpha\n"))
	sess := &fakeSession{
		tableExists:  true,
		columns:      []string{"id", "name"},
		reconcileErr: errors.New("deadlock detected"),
	}

	result, err := newTestImporter(sess).Run(context.Background(), Options{
		FilePath:    path,
		Table:       "items",
		PrimaryKey:  []string{"id"},
		DatabaseURL: "postgres://target",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.HasErrors() {
		t.Fatal("result should carry the reconcile failure")
	}
	if !sess.execContaining("DROP TABLE IF EXISTS") {
		t.Error("staging table not dropped after reconcile failure")
	}
}

func TestRun_EmptyFileIsNotSuccess(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("id,name\n"))
	sess := &fakeSession{
		tableExists: true,
		columns:     []string{"id", "name"},
	}

	result, err := newTestImporter(sess).Run(context.Background(), Options{
		FilePath:    path,
		Table:       "items",
		PrimaryKey:  []string{"id"},
		DatabaseURL: "postgres://target",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.HasErrors() {
		t.Errorf("empty file should not produce errors, got %v", result.Errors)
	}
	if result.Success() {
		t.Error("Success() = true for empty file, want false")
	}
	if result.TotalRows() != 0 {
		t.Errorf("TotalRows() = %d, want 0", result.TotalRows())
	}
}
