package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByPublicID(ctx context.Context, db *gorm.DB, publicID string) (*Payment, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, provider Provider, providerRef string) (*Payment, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Payment, error)
	MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, details SettleDetails) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error
	CancelOpenByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, at time.Time) (int64, error)

	InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *WebhookEventRecord) (bool, error)
	FindWebhookEvent(ctx context.Context, db *gorm.DB, provider string, eventID string) (*WebhookEventRecord, error)
	MarkWebhookEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, processedAt time.Time) error
}
