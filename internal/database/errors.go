package database

import (
	"errors"
	"fmt"
)

// ErrNoDSN is returned when a connection string is missing. This is a
// configuration error: it is never retried and callers should surface it
// immediately.
var ErrNoDSN = errors.New("database connection string is required")

// ErrPoolBusy is returned when the management pool has no free connection
// within the acquire timeout. Distinct from ConnectivityError so callers can
// apply backpressure or retry instead of treating the database as down.
var ErrPoolBusy = errors.New("no database connections available")

// ConnectivityError wraps a failure to reach or converse with a database
// endpoint.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsConnectivity reports whether err is a connectivity failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
