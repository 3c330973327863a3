package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a generic store for catalog tables keyed by snowflake ids,
// such as membership levels and event price rules. Tables with state
// machines get a hand-written repository instead.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	// Find matches the non-zero fields of query.
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	// FindByID returns nil, nil when the id is unknown.
	FindByID(ctx context.Context, id snowflake.ID) (*T, error)
	Create(ctx context.Context, resource *T) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}
