package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, membership *Membership) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Membership, error)
	// LockActiveByUser returns the user's ACTIVE row under FOR UPDATE.
	LockActiveByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Membership, error)
	FindLatestByUserAndStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, status Status) (*Membership, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Membership, error)
	UpdateTerm(ctx context.Context, db *gorm.DB, id snowflake.ID, levelID snowflake.ID, endDate time.Time, status Status, at time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, at time.Time) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	ExpireEnded(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error)
}
