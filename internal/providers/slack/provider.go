package slack

import (
	"context"
	"fmt"
	"strings"
)

// Provider delivers operator alerts to a channel.
type Provider interface {
	PostMessage(ctx context.Context, channelID string, message string) error
}

type AlertKind string

const (
	// AlertPaymentFailed is raised when a provider reports a failed charge.
	AlertPaymentFailed AlertKind = "payment_failed"
	// AlertOrderNotPayable is raised when money was captured for an order
	// that had already left PENDING.
	AlertOrderNotPayable AlertKind = "order_not_payable"
)

// PaymentAlert describes a settlement that needs an operator.
type PaymentAlert struct {
	Kind        AlertKind
	PaymentID   string
	OrderNumber string
	OrderStatus string
	Amount      string
	Currency    string
	Reason      string
}

// Text renders the alert as a single Slack message line.
func (a PaymentAlert) Text() string {
	switch a.Kind {
	case AlertOrderNotPayable:
		return fmt.Sprintf("Payment %s succeeded but order %s is %s; refund or fulfil manually.",
			a.PaymentID, a.OrderNumber, a.OrderStatus)
	case AlertPaymentFailed:
		return fmt.Sprintf("Payment %s (%s %s) failed: %s",
			a.PaymentID, a.Amount, a.Currency, strings.TrimSpace(a.Reason))
	default:
		return fmt.Sprintf("Payment %s needs attention: %s", a.PaymentID, a.Reason)
	}
}

// Notify posts the alert. Empty alerts are ignored.
func Notify(ctx context.Context, p Provider, channelID string, alert PaymentAlert) error {
	if p == nil || alert.PaymentID == "" {
		return nil
	}
	return p.PostMessage(ctx, channelID, alert.Text())
}

type NoOpProvider struct{}

func (p *NoOpProvider) PostMessage(ctx context.Context, channelID string, message string) error {
	return nil
}
