package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/webhook"
)

const defaultRequestTimeout = 15 * time.Second

type intentAPI interface {
	New(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Get(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Confirm(id string, params *stripego.PaymentIntentConfirmParams) (*stripego.PaymentIntent, error)
}

type refundAPI interface {
	New(params *stripego.RefundParams) (*stripego.Refund, error)
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() paymentdomain.Provider {
	return paymentdomain.ProviderStripe
}

func (f *Factory) NewProvider(cfg paymentdomain.ProviderConfig) (paymentdomain.PaymentProvider, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripego.Int64(2),
	})

	key := strings.TrimSpace(cfg.StripeSecretKey)
	return &Adapter{
		secretKey:     key,
		webhookSecret: strings.TrimSpace(cfg.StripeWebhookSecret),
		intents:       &paymentintent.Client{B: backend, Key: key},
		refunds:       &refund.Client{B: backend, Key: key},
	}, nil
}

type Adapter struct {
	secretKey     string
	webhookSecret string
	intents       intentAPI
	refunds       refundAPI
}

func (a *Adapter) Name() paymentdomain.Provider {
	return paymentdomain.ProviderStripe
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(toMinorUnits(req.Amount, currency)),
		Currency: stripego.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.Context = ctx
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	if orderID := strings.TrimSpace(req.OrderID); orderID != "" {
		params.AddMetadata("order_id", orderID)
	}
	if paymentID := strings.TrimSpace(req.Metadata["payment_id"]); paymentID != "" {
		params.SetIdempotencyKey("memberhub_payment_" + paymentID)
	}

	intent, err := a.intents.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return &paymentdomain.Intent{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          fromMinorUnits(intent.Amount, currency),
		Currency:        currency,
	}, nil
}

func (a *Adapter) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*paymentdomain.WebhookEvent, error) {
	if a.webhookSecret == "" || strings.TrimSpace(signature) == "" {
		return nil, paymentdomain.ErrSignatureVerification
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrSignatureVerification, err)
	}

	out := &paymentdomain.WebhookEvent{
		ID:       event.ID,
		Type:     string(event.Type),
		Created:  time.Unix(event.Created, 0).UTC(),
		Metadata: map[string]string{},
		Payload:  payload,
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case paymentdomain.EventCheckoutSessionCompleted:
		var session stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.ObjectID = session.ID
		if session.PaymentIntent != nil {
			out.PaymentIntentID = session.PaymentIntent.ID
		}
		out.Currency = strings.ToUpper(string(session.Currency))
		out.Amount = fromMinorUnits(session.AmountTotal, out.Currency)
		copyMetadata(out.Metadata, session.Metadata)
	case paymentdomain.EventPaymentIntentSucceeded, paymentdomain.EventPaymentIntentFailed:
		var intent stripego.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.ObjectID = intent.ID
		out.PaymentIntentID = intent.ID
		out.Currency = strings.ToUpper(string(intent.Currency))
		out.Amount = fromMinorUnits(intent.Amount, out.Currency)
		if intent.LastPaymentError != nil {
			out.FailureReason = intent.LastPaymentError.Msg
		}
		copyMetadata(out.Metadata, intent.Metadata)
	case paymentdomain.EventChargeSucceeded, paymentdomain.EventChargeFailed:
		var charge stripego.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.ObjectID = charge.ID
		if charge.PaymentIntent != nil {
			out.PaymentIntentID = charge.PaymentIntent.ID
		}
		out.Currency = strings.ToUpper(string(charge.Currency))
		out.Amount = fromMinorUnits(charge.Amount, out.Currency)
		out.FailureReason = charge.FailureMessage
		copyMetadata(out.Metadata, charge.Metadata)
	}

	return out, nil
}

func (a *Adapter) ConfirmPayment(ctx context.Context, paymentIntentID string) (*paymentdomain.PaymentResult, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil, paymentdomain.ErrPaymentIntentRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &stripego.PaymentIntentConfirmParams{}
	params.Context = ctx
	intent, err := a.intents.Confirm(paymentIntentID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return &paymentdomain.PaymentResult{
		PaymentIntentID: intent.ID,
		Status:          mapIntentStatus(intent.Status),
	}, nil
}

func (a *Adapter) RefundPayment(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	paymentIntentID := strings.TrimSpace(req.PaymentIntentID)
	if paymentIntentID == "" {
		return nil, paymentdomain.ErrPaymentIntentRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &stripego.RefundParams{PaymentIntent: stripego.String(paymentIntentID)}
	params.Context = ctx
	if req.Amount.Valid {
		if !req.Amount.Decimal.IsPositive() {
			return nil, paymentdomain.ErrInvalidAmount
		}
		params.Amount = stripego.Int64(toMinorUnits(req.Amount.Decimal, req.Currency))
	}
	if reason := normalizeRefundReason(req.Reason); reason != "" {
		params.Reason = stripego.String(reason)
	}
	params.AddMetadata("reason_note", strings.TrimSpace(req.Reason))

	result, err := a.refunds.New(params)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	if result.Status == stripego.RefundStatusFailed || result.Status == stripego.RefundStatusCanceled {
		return nil, paymentdomain.ErrRefundFailed
	}
	currency := strings.ToUpper(string(result.Currency))
	return &paymentdomain.RefundResult{
		RefundID: result.ID,
		Status:   string(result.Status),
		Amount:   fromMinorUnits(result.Amount, currency),
	}, nil
}

func (a *Adapter) GetPaymentDetails(ctx context.Context, paymentIntentID string) (*paymentdomain.PaymentDetails, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil, paymentdomain.ErrPaymentIntentRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge.balance_transaction")
	intent, err := a.intents.Get(paymentIntentID, params)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	currency := strings.ToUpper(string(intent.Currency))
	details := &paymentdomain.PaymentDetails{
		Status: mapIntentStatus(intent.Status),
		Amount: fromMinorUnits(intent.Amount, currency),
	}
	if charge := intent.LatestCharge; charge != nil {
		if charge.PaymentMethodDetails != nil {
			details.PaymentMethod = string(charge.PaymentMethodDetails.Type)
		}
		if bt := charge.BalanceTransaction; bt != nil {
			btCurrency := strings.ToUpper(string(bt.Currency))
			details.Fee = decimal.NewNullDecimal(fromMinorUnits(bt.Fee, btCurrency))
			details.Net = decimal.NewNullDecimal(fromMinorUnits(bt.Net, btCurrency))
		}
	}
	return details, nil
}

func mapIntentStatus(status stripego.PaymentIntentStatus) paymentdomain.PaymentStatus {
	switch status {
	case stripego.PaymentIntentStatusSucceeded:
		return paymentdomain.PaymentStatusSucceeded
	case stripego.PaymentIntentStatusProcessing:
		return paymentdomain.PaymentStatusProcessing
	case stripego.PaymentIntentStatusCanceled:
		return paymentdomain.PaymentStatusCancelled
	default:
		return paymentdomain.PaymentStatusPending
	}
}

func normalizeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "duplicate":
		return "duplicate"
	case "fraudulent":
		return "fraudulent"
	case "requested_by_customer", "customer_request":
		return "requested_by_customer"
	default:
		return ""
	}
}

func copyMetadata(dst map[string]string, src map[string]string) {
	for key, value := range src {
		dst[key] = strings.TrimSpace(value)
	}
}

func wrapStripeError(err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %s (%s)", paymentdomain.ErrProviderRequestFailed, stripeErr.Msg, stripeErr.Code)
	}
	return fmt.Errorf("%w: %v", paymentdomain.ErrProviderRequestFailed, err)
}
