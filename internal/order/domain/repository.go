package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListOrderFilter struct {
	UserID *snowflake.ID
	Status OrderStatus
	Type   OrderType
}

// Repository is the only writer of order rows. Status changes go through
// TransitionStatus, which compares and sets in a single statement.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByPublicID(ctx context.Context, db *gorm.DB, publicID string) (*Order, error)
	FindPendingByReference(ctx context.Context, db *gorm.DB, referenceID, referenceType string) ([]Order, error)
	List(ctx context.Context, db *gorm.DB, filter ListOrderFilter, page pagination.Pagination) ([]*Order, error)
	ListExpiredPending(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Order, error)
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to OrderStatus, at time.Time) (bool, error)
	NextOrderNumber(ctx context.Context, db *gorm.DB, period string) (int64, error)
}
