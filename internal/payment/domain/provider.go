package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Stripe event names the reconciliation understands.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventChargeSucceeded          = "charge.succeeded"
	EventChargeFailed             = "charge.failed"
)

type IntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	OrderID  string
	Metadata map[string]string
}

type Intent struct {
	ClientSecret    string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
}

// WebhookEvent is the provider-neutral view of a verified callback.
type WebhookEvent struct {
	ID              string
	Type            string
	Created         time.Time
	ObjectID        string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	FailureReason   string
	Metadata        map[string]string
	Payload         []byte
}

type PaymentResult struct {
	PaymentIntentID string
	Status          PaymentStatus
}

type RefundRequest struct {
	PaymentIntentID string
	Amount          decimal.NullDecimal
	Currency        string
	Reason          string
}

type RefundResult struct {
	RefundID string
	Status   string
	Amount   decimal.Decimal
}

type PaymentDetails struct {
	Status        PaymentStatus
	Amount        decimal.Decimal
	Fee           decimal.NullDecimal
	Net           decimal.NullDecimal
	PaymentMethod string
}

// PaymentProvider is implemented once per external processor.
type PaymentProvider interface {
	Name() Provider
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
	ConfirmPayment(ctx context.Context, paymentIntentID string) (*PaymentResult, error)
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
	GetPaymentDetails(ctx context.Context, paymentIntentID string) (*PaymentDetails, error)
}

type ProviderConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	RequestTimeout      time.Duration
}

type ProviderFactory interface {
	Provider() Provider
	NewProvider(cfg ProviderConfig) (PaymentProvider, error)
}
