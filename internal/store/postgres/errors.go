package postgres

import (
	"context"
	"errors"
	"fmt"

	"qms/dispatch-service/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

// translateErr maps driver failures onto the store error kinds.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return store.Transient(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case isRetryableCode(pgErr.Code):
			return store.Transient(err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return store.Transient(err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return store.Transient(err)
	}
	return err
}

func isRetryableCode(code string) bool {
	switch code {
	case "40001", "40P01", "55P03", "57P01", "57P03":
		return true
	}
	// connection exceptions
	return len(code) == 5 && code[:2] == "08"
}
