package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// duplicateMarkers match unique violations surfaced as plain text by
// lib/pq, the MySQL driver (1062) and SQLite (2067).
var duplicateMarkers = []string{
	"duplicate key value violates unique constraint",
	"Error 1062",
	"UNIQUE constraint failed",
}

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if pgErr := asPgError(err); pgErr != nil {
		return pgErr.Code == pgUniqueViolation
	}

	msg := err.Error()
	for _, marker := range duplicateMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ViolatedConstraint names the unique index behind a duplicate key error.
// Only Postgres reports it; other dialects return "".
func ViolatedConstraint(err error) string {
	if pgErr := asPgError(err); pgErr != nil && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

func asPgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}
