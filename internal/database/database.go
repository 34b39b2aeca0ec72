// Package database provides connection lifecycle management for the two
// kinds of endpoints this service talks to:
//
//   - the management database: one fixed metadata store behind a bounded
//     connection pool (see Pool), and
//   - import targets: arbitrary databases identified by a per-call
//     connection string, opened fresh and closed unconditionally (see
//     Connect and WithConn).
//
// Imports always use direct connections because every invocation may target
// a different database; there is no fallback to a process-wide default DSN.
package database

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor is the subset of query operations shared by *pgx.Conn,
// *pgxpool.Conn, and pgx.Tx. Schema and import code is written against this
// interface so it can run inside or outside a transaction and be exercised
// with fakes in tests.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Session is one direct connection to a target database. *pgx.Conn
// satisfies it.
type Session interface {
	Executor
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// Connect opens a direct connection to the target identified by dsn.
// The caller owns the connection and must close it; prefer WithConn.
func Connect(ctx context.Context, dsn string) (Session, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, &ConnectivityError{Op: "connect", Err: err}
	}
	return conn, nil
}

// WithConn opens a direct connection, runs fn, and closes the connection on
// every exit path. The returned error is fn's error, or the connect error.
func WithConn(ctx context.Context, dsn string, fn func(Session) error) error {
	sess, err := Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(context.Background()); cerr != nil {
			slog.Debug("closing direct connection", "error", cerr)
		}
	}()

	return fn(sess)
}
