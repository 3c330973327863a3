package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm duplicated", err: gorm.ErrDuplicatedKey, want: true},
		{name: "pgconn unique", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "pgconn other", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: payments.provider_ref"), want: true},
		{name: "mysql", err: errors.New("Error 1062: Duplicate entry"), want: true},
		{name: "unrelated", err: errors.New("connection refused"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tc.err); got != tc.want {
				t.Fatalf("IsDuplicateKeyErr(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestViolatedConstraint(t *testing.T) {
	err := fmt.Errorf("insert registration: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_event_registrations_member"})
	if got := ViolatedConstraint(err); got != "ux_event_registrations_member" {
		t.Fatalf("unexpected constraint %q", got)
	}
	if got := ViolatedConstraint(&pgconn.PgError{Code: "23503", ConstraintName: "fk_orders_user"}); got != "" {
		t.Fatalf("expected empty constraint for non-unique error, got %q", got)
	}
	if got := ViolatedConstraint(errors.New("UNIQUE constraint failed: guests.registration_id")); got != "" {
		t.Fatalf("expected empty constraint for sqlite, got %q", got)
	}
}
