package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/pkg/db/pagination"
	"gorm.io/gorm"
)

// Transaction types stamped into provider metadata so the webhook can route
// a settled payment to its side effect.
const (
	TransactionTypeMembership  = "membership"
	TransactionTypeEventMember = "event_member"
	TransactionTypeEventGuest  = "event_guest"
)

// Provider metadata keys written at checkout.
const (
	MetadataOrderID         = "order_id"
	MetadataPaymentID       = "payment_id"
	MetadataPaymentPublicID = "payment_public_id"
)

type CreateOrderRequest struct {
	UserID          *snowflake.ID
	Type            OrderType
	Provider        string
	Amount          decimal.Decimal
	Currency        string
	AdminFee        decimal.NullDecimal
	Tax             decimal.NullDecimal
	Discount        decimal.NullDecimal
	ReferenceID     string
	ReferenceType   string
	TransactionType string
	Metadata        map[string]string
	Notes           string
}

type CreateOrderResponse struct {
	Order        Order                 `json:"order"`
	Payment      paymentdomain.Payment `json:"payment"`
	ClientSecret string                `json:"client_secret,omitempty"`
}

type CreateAdminOrderRequest struct {
	UserID        *snowflake.ID
	Type          OrderType
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	ReferenceID   string
	ReferenceType string
	Metadata      map[string]string
	Notes         string
}

type GuestCheckoutRequest struct {
	RegistrationID snowflake.ID
	Provider       string
	Amount         decimal.Decimal
	Currency       string
	Email          string
	Metadata       map[string]string
}

type GuestCheckoutResponse struct {
	Payment      paymentdomain.Payment `json:"payment"`
	ClientSecret string                `json:"client_secret,omitempty"`
}

type RefundOrderRequest struct {
	PublicID string
	Amount   decimal.NullDecimal
	Reason   string
}

type OrderDetail struct {
	Order    Order                   `json:"order"`
	Payments []paymentdomain.Payment `json:"payments"`
}

type ListOrderRequest struct {
	pagination.Pagination
	UserID *snowflake.ID
	Status string
	Type   string
}

type ListOrderResponse struct {
	pagination.PageInfo
	Orders []Order `json:"orders"`
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	CreateAdminOrder(ctx context.Context, req CreateAdminOrderRequest) (OrderDetail, error)
	CreateGuestCheckout(ctx context.Context, req GuestCheckoutRequest) (GuestCheckoutResponse, error)
	CancelOrder(ctx context.Context, publicID string) (Order, error)
	RefundOrder(ctx context.Context, req RefundOrderRequest) (Order, error)
	CancelOrderByReference(ctx context.Context, referenceID, referenceType string) (int, error)
	GetOrder(ctx context.Context, publicID string) (OrderDetail, error)
	ListOrders(ctx context.Context, req ListOrderRequest) (ListOrderResponse, error)
	ExpirePendingOrders(ctx context.Context, now time.Time, limit int) (int, error)

	// Webhook reconciliation hooks; they run on the caller's transaction.
	FindByIDTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Order, error)
	MarkPaidTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidAt time.Time) error
	MarkFailedTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error
	CancelOrderByReferenceTx(ctx context.Context, tx *gorm.DB, referenceID, referenceType string) (int, error)
}

var (
	ErrInvalidID              = errors.New("invalid_id")
	ErrInvalidType            = errors.New("invalid_order_type")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrInvalidRefundAmount    = errors.New("invalid_refund_amount")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrNotFound               = errors.New("order_not_found")
	ErrPaymentNotFound        = errors.New("order_payment_not_found")
)
