package webhook

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
)

var (
	ErrWebhookVerification     = errors.New("webhook_verification_failed")
	ErrUnknownTransactionType  = errors.New("unknown_transaction_type")
	ErrMissingRegistration     = errors.New("missing_registration_id")
	ErrInvalidCheckoutMetadata = errors.New("invalid_checkout_metadata")
	ErrConcurrentDelivery      = errors.New("concurrent_webhook_delivery")
)

// Checkout is what a settled payment paid for, decoded once from the
// provider metadata. Exactly one of the variants below is returned.
type Checkout interface {
	TransactionType() string
}

type MembershipCheckout struct{}

func (MembershipCheckout) TransactionType() string { return orderdomain.TransactionTypeMembership }

// EventMemberCheckout may carry a zero RegistrationID; the order reference is
// used instead.
type EventMemberCheckout struct {
	RegistrationID snowflake.ID
}

func (EventMemberCheckout) TransactionType() string { return orderdomain.TransactionTypeEventMember }

type EventGuestCheckout struct {
	RegistrationID snowflake.ID
}

func (EventGuestCheckout) TransactionType() string { return orderdomain.TransactionTypeEventGuest }

// LegacyCheckout covers payments created before transaction types were
// recorded. Settling one confirms the payment and order only.
type LegacyCheckout struct{}

func (LegacyCheckout) TransactionType() string { return "legacy" }

func ParseCheckout(metadata map[string]string) (Checkout, error) {
	txType := strings.ToLower(strings.TrimSpace(metadata[orderdomain.MetadataTransactionType]))
	switch txType {
	case "":
		return LegacyCheckout{}, nil
	case orderdomain.TransactionTypeMembership:
		return MembershipCheckout{}, nil
	case orderdomain.TransactionTypeEventMember:
		raw := strings.TrimSpace(metadata[orderdomain.MetadataRegistrationID])
		if raw == "" {
			return EventMemberCheckout{}, nil
		}
		id, err := parseRegistrationID(raw)
		if err != nil {
			return nil, err
		}
		return EventMemberCheckout{RegistrationID: id}, nil
	case orderdomain.TransactionTypeEventGuest:
		id, err := parseRegistrationID(metadata[orderdomain.MetadataRegistrationID])
		if err != nil {
			return nil, err
		}
		return EventGuestCheckout{RegistrationID: id}, nil
	}
	return nil, ErrUnknownTransactionType
}

func parseRegistrationID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, ErrMissingRegistration
	}
	return id, nil
}
