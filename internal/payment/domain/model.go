package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Provider string

const (
	ProviderStripe Provider = "STRIPE"
	ProviderAdmin  Provider = "ADMIN"
)

// ParseProvider accepts route and config spellings ("stripe", "Stripe").
func ParseProvider(value string) (Provider, bool) {
	switch Provider(strings.ToUpper(strings.TrimSpace(value))) {
	case ProviderStripe:
		return ProviderStripe, true
	case ProviderAdmin:
		return ProviderAdmin, true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) Open() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

type Payment struct {
	ID            snowflake.ID        `gorm:"primaryKey" json:"id"`
	PublicID      string              `gorm:"type:text;not null;uniqueIndex" json:"public_id"`
	OrderID       *snowflake.ID       `gorm:"index" json:"order_id,omitempty"`
	Provider      Provider            `gorm:"type:text;not null" json:"provider"`
	Status        PaymentStatus       `gorm:"type:text;not null" json:"status"`
	Amount        decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency      string              `gorm:"type:text;not null" json:"currency"`
	FeeAmount     decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"fee_amount"`
	NetAmount     decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"net_amount"`
	ProviderRef   *string             `gorm:"type:text" json:"provider_ref,omitempty"`
	PaymentMethod string              `gorm:"type:text;not null;default:''" json:"payment_method,omitempty"`
	FailureReason string              `gorm:"type:text;not null;default:''" json:"failure_reason,omitempty"`
	Metadata      datatypes.JSONMap   `gorm:"type:jsonb" json:"metadata,omitempty"`
	ProcessedAt   *time.Time          `json:"processed_at,omitempty"`
	CreatedAt     time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// SettleDetails carries provider-reported settlement figures.
type SettleDetails struct {
	FeeAmount     decimal.NullDecimal
	NetAmount     decimal.NullDecimal
	PaymentMethod string
	ProcessedAt   time.Time
}

// WebhookEventRecord is a row of the idempotency ledger keyed by (provider, event_id).
type WebhookEventRecord struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider      string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_provider_event" json:"provider"`
	EventID       string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_provider_event" json:"event_id"`
	EventType     string         `gorm:"type:text;not null" json:"event_type"`
	CorrelationID string         `gorm:"type:text;not null;default:''" json:"correlation_id"`
	Outcome       string         `gorm:"type:text;not null;default:''" json:"outcome"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	ReceivedAt    time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt   *time.Time     `json:"processed_at"`
}

func (WebhookEventRecord) TableName() string { return "processed_webhook_events" }
