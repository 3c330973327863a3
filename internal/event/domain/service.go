package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateEventRequest struct {
	Title       string
	Description string
	Status      EventStatus
	IsPublic    bool
	Capacity    *int
	Currency    string
	Tags        []string
	StartsAt    time.Time
	EndsAt      *time.Time
}

type AddPriceRequest struct {
	EventID           snowflake.ID
	MembershipLevelID *snowflake.ID
	Price             decimal.Decimal
	Quota             *int
	Inactive          bool
}

type ValidateRegistrationRequest struct {
	EventID           snowflake.ID
	UserID            *snowflake.ID
	MembershipLevelID *snowflake.ID
}

type GuestInput struct {
	Name  string
	Email string
	Phone string
}

type CreateRegistrationRequest struct {
	EventID           snowflake.ID
	UserID            *snowflake.ID
	MembershipLevelID *snowflake.ID
	Guest             *GuestInput
}

type EventDetail struct {
	Event  *Event   `json:"event"`
	Prices []*Price `json:"prices"`
}

type Service interface {
	CreateEvent(ctx context.Context, req CreateEventRequest) (*Event, error)
	// GetEvent resolves by numeric id first, then by slug.
	GetEvent(ctx context.Context, idOrSlug string) (EventDetail, error)
	AddPrice(ctx context.Context, req AddPriceRequest) (*Price, error)

	ValidateRegistration(ctx context.Context, req ValidateRegistrationRequest) (decimal.Decimal, error)
	ValidateRegistrationTx(ctx context.Context, tx *gorm.DB, req ValidateRegistrationRequest) (decimal.Decimal, error)
	CreateRegistration(ctx context.Context, req CreateRegistrationRequest) (*Registration, error)
	GetRegistration(ctx context.Context, id snowflake.ID) (*Registration, error)
	ListRegistrations(ctx context.Context, eventID snowflake.ID) ([]*Registration, error)

	// ProcessEventPayment marks the registration PAID and sends the
	// confirmation email; email failures are logged only.
	ProcessEventPayment(ctx context.Context, registrationID snowflake.ID) (*Registration, error)
	MarkPaidTx(ctx context.Context, tx *gorm.DB, registrationID snowflake.ID) (*Registration, error)
	SendConfirmation(ctx context.Context, registrationID snowflake.ID) error

	CancelRegistration(ctx context.Context, registrationID snowflake.ID) error
	MarkAttended(ctx context.Context, registrationID snowflake.ID) (*Registration, error)
}

var (
	ErrInvalidID                = errors.New("invalid_id")
	ErrInvalidTitle             = errors.New("invalid_title")
	ErrInvalidStatus            = errors.New("invalid_status")
	ErrInvalidCapacity          = errors.New("invalid_capacity")
	ErrInvalidCurrency          = errors.New("invalid_currency")
	ErrInvalidSchedule          = errors.New("invalid_schedule")
	ErrInvalidPrice             = errors.New("invalid_price")
	ErrInvalidGuest             = errors.New("invalid_guest")
	ErrEventNotFound            = errors.New("event_not_found")
	ErrEventNotOpen             = errors.New("event_not_open")
	ErrEventFull                = errors.New("event_full")
	ErrPriceInactive            = errors.New("price_inactive")
	ErrQuotaExceeded            = errors.New("quota_exceeded")
	ErrDuplicatePrice           = errors.New("duplicate_price")
	ErrAlreadyRegistered        = errors.New("already_registered")
	ErrRegistrationNotFound     = errors.New("registration_not_found")
	ErrInvalidRegistrationState = errors.New("invalid_registration_state")
)
