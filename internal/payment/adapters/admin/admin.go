package admin

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
)

const referencePrefix = "admin_"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() paymentdomain.Provider {
	return paymentdomain.ProviderAdmin
}

func (f *Factory) NewProvider(paymentdomain.ProviderConfig) (paymentdomain.PaymentProvider, error) {
	return &Provider{}, nil
}

// Provider records off-platform payments. It never calls out; the order
// service settles admin payments immediately.
type Provider struct{}

func (p *Provider) Name() paymentdomain.Provider {
	return paymentdomain.ProviderAdmin
}

func (p *Provider) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	if req.Amount.IsNegative() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	return &paymentdomain.Intent{
		PaymentIntentID: NewReference(),
		Amount:          req.Amount,
		Currency:        currency,
	}, nil
}

func (p *Provider) ProcessWebhook(context.Context, []byte, string) (*paymentdomain.WebhookEvent, error) {
	return nil, paymentdomain.ErrWebhookUnsupported
}

func (p *Provider) ConfirmPayment(ctx context.Context, paymentIntentID string) (*paymentdomain.PaymentResult, error) {
	if !IsReference(paymentIntentID) {
		return nil, paymentdomain.ErrPaymentIntentRequired
	}
	return &paymentdomain.PaymentResult{
		PaymentIntentID: paymentIntentID,
		Status:          paymentdomain.PaymentStatusSucceeded,
	}, nil
}

func (p *Provider) RefundPayment(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	if !IsReference(req.PaymentIntentID) {
		return nil, paymentdomain.ErrPaymentIntentRequired
	}
	amount := decimal.Zero
	if req.Amount.Valid {
		amount = req.Amount.Decimal
	}
	return &paymentdomain.RefundResult{
		RefundID: referencePrefix + "re_" + strings.ToLower(ulid.Make().String()),
		Status:   "succeeded",
		Amount:   amount,
	}, nil
}

func (p *Provider) GetPaymentDetails(ctx context.Context, paymentIntentID string) (*paymentdomain.PaymentDetails, error) {
	if !IsReference(paymentIntentID) {
		return nil, paymentdomain.ErrPaymentIntentRequired
	}
	return &paymentdomain.PaymentDetails{
		Status:        paymentdomain.PaymentStatusSucceeded,
		Fee:           decimal.NewNullDecimal(decimal.Zero),
		PaymentMethod: "manual",
	}, nil
}

func NewReference() string {
	return referencePrefix + strings.ToLower(ulid.Make().String())
}

func IsReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), referencePrefix)
}
