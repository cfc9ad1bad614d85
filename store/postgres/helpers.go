package postgres

import (
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/queuectl"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isUnavailable reports connection-level failures, as opposed to errors
// the server returned for a statement.
func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	var netErr net.Error
	return errors.As(err, &connErr) || pgconn.Timeout(err) || errors.As(err, &netErr)
}

// wrap annotates err with the operation and marks connectivity failures
// with queuectl.ErrStoreUnavailable.
func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("queuectl/postgres: %s: %w: %w", op, queuectl.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("queuectl/postgres: %s: %w", op, err)
}
