package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/event/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var seatStatuses = []domain.RegistrationStatus{
	domain.RegistrationStatusPending,
	domain.RegistrationStatusPaid,
	domain.RegistrationStatusAttended,
}

const registrationColumns = `id, public_id, event_id, user_id, membership_level_id, price, status, registered_at, updated_at`

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FindEventByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	return r.findEvent(ctx, db.Where("id = ?", id))
}

func (r *repo) FindEventBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Event, error) {
	return r.findEvent(ctx, db.Where("slug = ?", slug))
}

func (r *repo) LockEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	return r.findEvent(ctx, db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repo) findEvent(ctx context.Context, stmt *gorm.DB) (*domain.Event, error) {
	var item domain.Event
	err := stmt.WithContext(ctx).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM events WHERE slug = ?`, slug).Scan(&count).Error
	return count > 0, err
}

func (r *repo) FindPrice(ctx context.Context, db *gorm.DB, eventID snowflake.ID, levelID *snowflake.ID) (*domain.Price, error) {
	stmt := db.WithContext(ctx).Where("event_id = ?", eventID)
	if levelID == nil {
		stmt = stmt.Where("membership_level_id IS NULL")
	} else {
		stmt = stmt.Where("membership_level_id = ?", *levelID)
	}

	var item domain.Price
	err := stmt.Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) CountSeats(ctx context.Context, db *gorm.DB, eventID snowflake.ID, excludeUserID *snowflake.ID) (int64, error) {
	stmt := db.WithContext(ctx).Model(&domain.Registration{}).
		Where("event_id = ? AND status IN ?", eventID, seatStatuses)
	stmt = excludeUser(stmt, excludeUserID)

	var count int64
	err := stmt.Count(&count).Error
	return count, err
}

func (r *repo) CountTierSeats(ctx context.Context, db *gorm.DB, eventID snowflake.ID, levelID *snowflake.ID, excludeUserID *snowflake.ID) (int64, error) {
	stmt := db.WithContext(ctx).Model(&domain.Registration{}).
		Where("event_id = ? AND status IN ?", eventID, seatStatuses)
	if levelID == nil {
		stmt = stmt.Where("membership_level_id IS NULL")
	} else {
		stmt = stmt.Where("membership_level_id = ?", *levelID)
	}
	stmt = excludeUser(stmt, excludeUserID)

	var count int64
	err := stmt.Count(&count).Error
	return count, err
}

func excludeUser(stmt *gorm.DB, userID *snowflake.ID) *gorm.DB {
	if userID == nil {
		return stmt
	}
	return stmt.Where("(user_id IS NULL OR user_id <> ?)", *userID)
}

func (r *repo) InsertRegistration(ctx context.Context, db *gorm.DB, registration *domain.Registration) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO event_registrations (`+registrationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		registration.ID,
		registration.PublicID,
		registration.EventID,
		registration.UserID,
		registration.MembershipLevelID,
		registration.Price,
		registration.Status,
		registration.RegisteredAt,
		registration.UpdatedAt,
	).Error
}

func (r *repo) InsertGuest(ctx context.Context, db *gorm.DB, guest *domain.Guest) error {
	return db.WithContext(ctx).Create(guest).Error
}

func (r *repo) FindRegistrationByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Registration, error) {
	var item domain.Registration
	err := db.WithContext(ctx).Raw(
		`SELECT `+registrationColumns+` FROM event_registrations WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) LockRegistration(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Registration, error) {
	var item domain.Registration
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindGuest(ctx context.Context, db *gorm.DB, registrationID snowflake.ID) (*domain.Guest, error) {
	var item domain.Guest
	err := db.WithContext(ctx).Raw(
		`SELECT id, registration_id, name, email, phone, created_at
		 FROM guests WHERE registration_id = ? LIMIT 1`,
		registrationID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListUserRegistrations(ctx context.Context, db *gorm.DB, eventID, userID snowflake.ID) ([]*domain.Registration, error) {
	var items []*domain.Registration
	err := db.WithContext(ctx).Raw(
		`SELECT `+registrationColumns+`
		 FROM event_registrations
		 WHERE event_id = ? AND user_id = ?
		 ORDER BY registered_at ASC`,
		eventID, userID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListRegistrations(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]*domain.Registration, error) {
	var items []*domain.Registration
	err := db.WithContext(ctx).Raw(
		`SELECT `+registrationColumns+`
		 FROM event_registrations
		 WHERE event_id = ?
		 ORDER BY registered_at ASC, id ASC`,
		eventID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) DeleteRegistrations(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := db.WithContext(ctx).Exec(`DELETE FROM guests WHERE registration_id IN ?`, ids).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(`DELETE FROM event_registrations WHERE id IN ?`, ids).Error
}

func (r *repo) UpdateRegistrationStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.RegistrationStatus, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE event_registrations SET status = ?, updated_at = ? WHERE id = ?`,
		status, at, id,
	).Error
}
