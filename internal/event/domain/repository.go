package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *Event) error
	FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	FindEventBySlug(ctx context.Context, db *gorm.DB, slug string) (*Event, error)
	LockEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error)

	// FindPrice returns the rule for a tier; a nil levelID selects the public tier.
	FindPrice(ctx context.Context, db *gorm.DB, eventID snowflake.ID, levelID *snowflake.ID) (*Price, error)

	// CountSeats counts seat-holding registrations, skipping rows owned by excludeUserID.
	CountSeats(ctx context.Context, db *gorm.DB, eventID snowflake.ID, excludeUserID *snowflake.ID) (int64, error)
	CountTierSeats(ctx context.Context, db *gorm.DB, eventID snowflake.ID, levelID *snowflake.ID, excludeUserID *snowflake.ID) (int64, error)

	InsertRegistration(ctx context.Context, db *gorm.DB, registration *Registration) error
	InsertGuest(ctx context.Context, db *gorm.DB, guest *Guest) error
	FindRegistrationByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Registration, error)
	LockRegistration(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Registration, error)
	FindGuest(ctx context.Context, db *gorm.DB, registrationID snowflake.ID) (*Guest, error)
	ListUserRegistrations(ctx context.Context, db *gorm.DB, eventID, userID snowflake.ID) ([]*Registration, error)
	ListRegistrations(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]*Registration, error)
	DeleteRegistrations(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
	UpdateRegistrationStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status RegistrationStatus, at time.Time) error
}
