package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateMembershipRequest struct {
	UserID    snowflake.ID
	LevelID   snowflake.ID
	StartDate *time.Time
	EndDate   *time.Time
}

type ExtendMembershipRequest struct {
	UserID snowflake.ID
	// LevelID optionally switches the term length used for the extension.
	LevelID *snowflake.ID
}

type ChangeLevelRequest struct {
	UserID     snowflake.ID
	NewLevelID snowflake.ID
	Operation  Operation
}

// CheckoutRequest describes a membership change that is about to be charged
// for.
type CheckoutRequest struct {
	UserID    snowflake.ID
	LevelID   snowflake.ID
	Operation Operation
}

type CreateLevelRequest struct {
	Name         string
	Price        decimal.Decimal
	Currency     string
	Priority     int
	DurationDays int
}

type Service interface {
	CreateMembership(ctx context.Context, req CreateMembershipRequest) (Membership, error)
	CreateMembershipTx(ctx context.Context, tx *gorm.DB, req CreateMembershipRequest) (Membership, error)
	ExtendMembership(ctx context.Context, req ExtendMembershipRequest) (Membership, error)
	ExtendMembershipTx(ctx context.Context, tx *gorm.DB, req ExtendMembershipRequest) (Membership, error)
	ChangeMembershipLevel(ctx context.Context, req ChangeLevelRequest) (Membership, error)
	ChangeMembershipLevelTx(ctx context.Context, tx *gorm.DB, req ChangeLevelRequest) (Membership, error)
	CancelMembership(ctx context.Context, id snowflake.ID) (Membership, error)
	CancelMembershipTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (Membership, error)
	DeleteMembership(ctx context.Context, id snowflake.ID) error
	DeleteMembershipTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
	ValidateCheckout(ctx context.Context, req CheckoutRequest) (*Membership, error)

	GetActiveMembership(ctx context.Context, userID snowflake.ID) (Membership, error)
	ListMemberships(ctx context.Context, userID snowflake.ID) ([]Membership, error)
	ExpireMemberships(ctx context.Context, now time.Time, limit int) (int, error)

	CreateLevel(ctx context.Context, req CreateLevelRequest) (Level, error)
	ListLevels(ctx context.Context, activeOnly bool) ([]Level, error)
	GetLevel(ctx context.Context, id snowflake.ID) (Level, error)
}

var (
	ErrInvalidID                 = errors.New("invalid_id")
	ErrInvalidLevel              = errors.New("invalid_membership_level")
	ErrInvalidOperation          = errors.New("invalid_membership_operation")
	ErrInvalidDateRange          = errors.New("invalid_date_range")
	ErrNotFound                  = errors.New("membership_not_found")
	ErrLevelNotFound             = errors.New("membership_level_not_found")
	ErrLevelInactive             = errors.New("membership_level_inactive")
	ErrDuplicateActiveMembership = errors.New("duplicate_active_membership")
	ErrNoMembershipToExtend      = errors.New("no_membership_to_extend")
	ErrInvalidLevelTransition    = errors.New("invalid_level_transition")
	ErrNoActiveMembership        = errors.New("no_active_membership")
)

func upper(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
