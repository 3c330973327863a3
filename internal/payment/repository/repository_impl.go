package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, public_id, order_id, provider, status, amount, currency,
	fee_amount, net_amount, provider_ref, payment_method, failure_reason,
	metadata, processed_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, `SELECT `+paymentColumns+` FROM payments WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindByPublicID(ctx context.Context, db *gorm.DB, publicID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `SELECT `+paymentColumns+` FROM payments WHERE public_id = ? LIMIT 1`, publicID)
}

func (r *repo) FindByProviderRef(ctx context.Context, db *gorm.DB, provider domain.Provider, providerRef string) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE provider = ? AND provider_ref = ?
		 LIMIT 1`,
		provider,
		providerRef,
	)
}

// LockByID reads the payment row under SELECT ... FOR UPDATE so concurrent
// deliveries for the same payment serialize on it.
func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
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

func (r *repo) ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE order_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, details domain.SettleDetails) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, fee_amount = ?, net_amount = ?,
			payment_method = CASE WHEN ? = '' THEN payment_method ELSE ? END,
			failure_reason = '', processed_at = ?, updated_at = ?
		 WHERE id = ?`,
		domain.PaymentStatusSucceeded,
		details.FeeAmount,
		details.NetAmount,
		details.PaymentMethod,
		details.PaymentMethod,
		details.ProcessedAt,
		details.ProcessedAt,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, failure_reason = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.PaymentStatusFailed,
		reason,
		at,
		at,
		id,
		domain.PaymentStatusSucceeded,
	).Error
}

func (r *repo) CancelOpenByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE order_id = ? AND status IN (?, ?)`,
		domain.PaymentStatusCancelled,
		at,
		orderID,
		domain.PaymentStatusPending,
		domain.PaymentStatusProcessing,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// InsertWebhookEvent claims (provider, event_id) in the ledger. It reports
// false when the event was already claimed by an earlier delivery.
func (r *repo) InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO processed_webhook_events (
			id, provider, event_id, event_type, correlation_id, outcome,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.EventID,
		event.EventType,
		event.CorrelationID,
		event.Outcome,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindWebhookEvent(ctx context.Context, db *gorm.DB, provider string, eventID string) (*domain.WebhookEventRecord, error) {
	var item domain.WebhookEventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, event_id, event_type, correlation_id, outcome,
			payload, received_at, processed_at
		 FROM processed_webhook_events
		 WHERE provider = ? AND event_id = ?
		 LIMIT 1`,
		provider,
		eventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkWebhookEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processed_webhook_events
		 SET outcome = ?, processed_at = ?
		 WHERE id = ?`,
		outcome,
		processedAt,
		id,
	).Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Payment, error) {
	var item domain.Payment
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
