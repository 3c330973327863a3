package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/order/domain"
	"github.com/smallbiznis/memberhub/pkg/db/option"
	"github.com/smallbiznis/memberhub/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, public_id, user_id, order_number, type, status, gross_amount,
	currency, breakdown, reference_id, reference_type, metadata, notes,
	expires_at, paid_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.findOne(ctx, db, `SELECT `+orderColumns+` FROM orders WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindByPublicID(ctx context.Context, db *gorm.DB, publicID string) (*domain.Order, error) {
	return r.findOne(ctx, db, `SELECT `+orderColumns+` FROM orders WHERE public_id = ? LIMIT 1`, publicID)
}

func (r *repo) FindPendingByReference(ctx context.Context, db *gorm.DB, referenceID, referenceType string) ([]domain.Order, error) {
	var items []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE reference_id = ? AND reference_type = ? AND status = ?
		 ORDER BY id ASC`,
		referenceID,
		referenceType,
		domain.OrderStatusPending,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListOrderFilter, page pagination.Pagination) ([]*domain.Order, error) {
	stmt := db.WithContext(ctx).Model(&domain.Order{})
	if filter.UserID != nil {
		stmt = stmt.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)

	var items []*domain.Order
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListExpiredPending(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Order, error) {
	var items []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`,
		domain.OrderStatusPending,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// TransitionStatus moves the order from one status to another only if it is
// still in the expected status. It reports whether a row was updated.
func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.OrderStatus, at time.Time) (bool, error) {
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{to, at, id, from}
	if to == domain.OrderStatusPaid {
		query = `UPDATE orders SET status = ?, paid_at = ?, updated_at = ? WHERE id = ? AND status = ?`
		args = []any{to, at, at, id, from}
	}

	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// NextOrderNumber atomically bumps the counter for period (YYYYMM) and
// returns the allocated value.
func (r *repo) NextOrderNumber(ctx context.Context, db *gorm.DB, period string) (int64, error) {
	var value int64
	err := db.WithContext(ctx).Raw(
		`INSERT INTO order_number_sequences (period, last_value)
		 VALUES (?, 1)
		 ON CONFLICT (period) DO UPDATE
		 SET last_value = order_number_sequences.last_value + 1
		 RETURNING last_value`,
		period,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Order, error) {
	var item domain.Order
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
