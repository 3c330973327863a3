package domain

import "errors"

var (
	ErrProviderNotFound      = errors.New("payment_provider_not_found")
	ErrProviderNotConfigured = errors.New("payment_provider_not_configured")
	ErrSignatureVerification = errors.New("signature_verification_failed")
	ErrWebhookUnsupported    = errors.New("webhook_unsupported")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrPaymentIntentRequired = errors.New("payment_intent_required")
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrRefundFailed          = errors.New("refund_failed")
	ErrProviderRequestFailed = errors.New("provider_request_failed")
)
