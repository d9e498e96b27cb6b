package db

import (
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrNotConnected is the single kind all transport failures map to.
	ErrNotConnected = errors.New("state store not connected")

	// ErrDuplicateKey is returned when attempting to insert a duplicate record.
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrStaleAction is returned when a creator action's timestamp does not
	// strictly exceed the channel's lastActedAt (replay guard).
	ErrStaleAction = errors.New("action timestamp not newer than lastActedAt")
)

// WrapError wraps store errors with operation context and maps them onto the
// store's error kinds. Transport-level failures all collapse into
// ErrNotConnected; everything else propagates unchanged.
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, ErrNotFound)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", operation, ErrNotConnected, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w (constraint: %s)", operation, ErrDuplicateKey, pgErr.ConstraintName)
		default:
			return fmt.Errorf("%s: database error [%s]: %w", operation, pgErr.Code, err)
		}
	}

	if pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %v", operation, ErrNotConnected, err)
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// IsNotFound returns true if the error is an ErrNotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNotConnected returns true if the error is an ErrNotConnected error.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsDuplicateKey returns true if the error is an ErrDuplicateKey error.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsStaleAction returns true if the error is an ErrStaleAction error.
func IsStaleAction(err error) bool {
	return errors.Is(err, ErrStaleAction)
}
