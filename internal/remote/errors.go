package remote

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrPermission marks ownership or privilege failures; never retried.
	ErrPermission = errors.New("remote: permission denied")
	// ErrNotFound is returned by reads when no record exists.
	ErrNotFound = errors.New("remote: record not found")
	// ErrUnavailable wraps connection level failures.
	ErrUnavailable = errors.New("remote: unavailable")
)

// classify maps driver errors onto the package sentinels, keeping the cause.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "42501" || sqlClass(pgErr.Code) == "28" {
			return fmt.Errorf("%s: %w: %w", op, ErrPermission, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermission) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch sqlClass(pgErr.Code) {
		case "22", "42":
			// data exceptions and syntax/access rule violations
			return true
		}
	}
	return false
}

// IsTransient reports whether err may clear up on a later attempt.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

func sqlClass(code string) string {
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}
