package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OrderType string

const (
	OrderTypeMembership OrderType = "MEMBERSHIP"
	OrderTypeEvent      OrderType = "EVENT"
	OrderTypeOther      OrderType = "OTHER"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMembership, OrderTypeEvent, OrderTypeOther:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusRefunded},
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

const (
	ReferenceTypeMembership        = "MEMBERSHIP"
	ReferenceTypeEventRegistration = "EVENT_REGISTRATION"
)

// Metadata keys read back by the webhook reconciliation.
const (
	MetadataMembershipLevelID = "membership_level_id"
	MetadataOperationType     = "operation_type"
	MetadataRegistrationID    = "registration_id"
	MetadataTransactionType   = "transaction_type"
)

type Breakdown struct {
	Base     decimal.Decimal     `json:"base"`
	AdminFee decimal.NullDecimal `json:"admin_fee"`
	Tax      decimal.NullDecimal `json:"tax"`
	Discount decimal.NullDecimal `json:"discount"`
}

// Total recomputes the gross amount from its parts.
func (b Breakdown) Total() decimal.Decimal {
	total := b.Base
	if b.AdminFee.Valid {
		total = total.Add(b.AdminFee.Decimal)
	}
	if b.Tax.Valid {
		total = total.Add(b.Tax.Decimal)
	}
	if b.Discount.Valid {
		total = total.Sub(b.Discount.Decimal)
	}
	return total
}

func (b Breakdown) Value() (driver.Value, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (b *Breakdown) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*b = Breakdown{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported breakdown value %T", value)
	}
	return json.Unmarshal(data, b)
}

type Order struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	PublicID      string            `gorm:"type:text;not null;uniqueIndex" json:"public_id"`
	UserID        *snowflake.ID     `gorm:"index" json:"user_id,omitempty"`
	OrderNumber   string            `gorm:"type:text;not null;uniqueIndex" json:"order_number"`
	Type          OrderType         `gorm:"type:text;not null" json:"type"`
	Status        OrderStatus       `gorm:"type:text;not null;index" json:"status"`
	GrossAmount   decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"gross_amount"`
	Currency      string            `gorm:"type:text;not null" json:"currency"`
	Breakdown     Breakdown         `gorm:"type:jsonb" json:"breakdown"`
	ReferenceID   *string           `gorm:"type:text" json:"reference_id,omitempty"`
	ReferenceType *string           `gorm:"type:text" json:"reference_type,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	Notes         string            `gorm:"type:text;not null;default:''" json:"notes,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// MetadataString reads a metadata value that may have been decoded as a
// string or a JSON number.
func (o *Order) MetadataString(key string) string {
	if o == nil || o.Metadata == nil {
		return ""
	}
	return stringValue(o.Metadata[key])
}

// OrderNumberSequence backs the per-month order number counter.
type OrderNumberSequence struct {
	Period    string `gorm:"primaryKey;type:text"`
	LastValue int64  `gorm:"not null"`
}

func (OrderNumberSequence) TableName() string { return "order_number_sequences" }
