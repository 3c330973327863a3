package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/pkg/db/option"
	"gorm.io/gorm"
)

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (r *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return r
	}
	return &store[T]{db: tx}
}

func (r *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var result []*T
	if err := r.scoped(ctx, query, opts).Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	return r.first(r.scoped(ctx, query, opts))
}

func (r *store[T]) FindByID(ctx context.Context, id snowflake.ID) (*T, error) {
	if id == 0 {
		return nil, nil
	}
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *store[T]) Create(ctx context.Context, resource *T) error {
	return r.db.WithContext(ctx).Create(resource).Error
}

func (r *store[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	var count int64
	err := r.scoped(ctx, query, opts).Model(new(T)).Count(&count).Error
	return count, err
}

func (r *store[T]) first(stmt *gorm.DB) (*T, error) {
	var result T
	if err := stmt.First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *store[T]) scoped(ctx context.Context, filter *T, opts []option.QueryOption) *gorm.DB {
	stmt := r.db.WithContext(ctx)
	if filter != nil {
		stmt = stmt.Where(filter)
	}
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	return stmt
}
