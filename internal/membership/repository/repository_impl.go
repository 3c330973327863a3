package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/membership/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const membershipColumns = `id, user_id, membership_level_id, start_date, end_date, status, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, membership *domain.Membership) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO memberships (`+membershipColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		membership.ID,
		membership.UserID,
		membership.MembershipLevelID,
		membership.StartDate,
		membership.EndDate,
		membership.Status,
		membership.CreatedAt,
		membership.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Membership, error) {
	return r.findOne(ctx, db, `SELECT `+membershipColumns+` FROM memberships WHERE id = ? LIMIT 1`, id)
}

func (r *repo) LockActiveByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Membership, error) {
	var item domain.Membership
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", userID, domain.StatusActive).
		Order("end_date DESC").
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindLatestByUserAndStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, status domain.Status) (*domain.Membership, error) {
	return r.findOne(ctx, db,
		`SELECT `+membershipColumns+`
		 FROM memberships
		 WHERE user_id = ? AND status = ?
		 ORDER BY end_date DESC, id DESC
		 LIMIT 1`,
		userID,
		status,
	)
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.Membership, error) {
	var items []domain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT `+membershipColumns+`
		 FROM memberships
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateTerm(ctx context.Context, db *gorm.DB, id snowflake.ID, levelID snowflake.ID, endDate time.Time, status domain.Status, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE memberships
		 SET membership_level_id = ?, end_date = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		levelID,
		endDate,
		status,
		at,
		id,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE memberships SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		at,
		id,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM memberships WHERE id = ?`, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ExpireEnded flips ACTIVE memberships whose end date has passed to EXPIRED,
// at most limit rows per call.
func (r *repo) ExpireEnded(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE memberships
		 SET status = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM memberships
			WHERE status = ? AND end_date < ?
			ORDER BY end_date ASC
			LIMIT ?
		 )`,
		domain.StatusExpired,
		now,
		domain.StatusActive,
		now,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Membership, error) {
	var item domain.Membership
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
