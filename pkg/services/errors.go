// Package services implements the domain operations over PostgreSQL. Every
// mutation that external subscribers care about appends its outbox event in
// the same transaction as the domain write.
package services

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the requester may not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict means the operation collides with existing state
	// (duplicate membership, repeated friend request, …).
	ErrConflict = errors.New("conflict")

	// ErrInvalid means the input failed domain validation.
	ErrInvalid = errors.New("invalid input")

	// ErrExpired means the invitation is past its expiry.
	ErrExpired = errors.New("invitation expired")
)

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
