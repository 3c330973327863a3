package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/memberhub/internal/authorization"
	eventdomain "github.com/smallbiznis/memberhub/internal/event/domain"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/internal/payment/webhook"
	"github.com/smallbiznis/memberhub/internal/providers/pdf"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isWebhookRejection(err) {
		return http.StatusBadRequest, errorPayload{
			Type:    "webhook_rejected",
			Message: err.Error(),
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, webhook.ErrConcurrentDelivery):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type/code pair the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isWebhookRejection(err error) bool {
	switch {
	case errors.Is(err, webhook.ErrWebhookVerification),
		errors.Is(err, paymentdomain.ErrSignatureVerification),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrWebhookUnsupported),
		errors.Is(err, webhook.ErrUnknownTransactionType),
		errors.Is(err, webhook.ErrMissingRegistration),
		errors.Is(err, webhook.ErrInvalidCheckoutMetadata):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isOrderValidationError(err),
		isMembershipValidationError(err),
		isEventValidationError(err),
		isPaymentValidationError(err):
		return true
	default:
		return false
	}
}

func isOrderValidationError(err error) bool {
	switch {
	case errors.Is(err, orderdomain.ErrInvalidID),
		errors.Is(err, orderdomain.ErrInvalidType),
		errors.Is(err, orderdomain.ErrInvalidAmount),
		errors.Is(err, orderdomain.ErrInvalidCurrency),
		errors.Is(err, orderdomain.ErrInvalidStatus),
		errors.Is(err, orderdomain.ErrInvalidRefundAmount),
		errors.Is(err, orderdomain.ErrInvalidStateTransition),
		errors.Is(err, pdf.ErrReceiptNotPaid):
		return true
	default:
		return false
	}
}

func isMembershipValidationError(err error) bool {
	switch {
	case errors.Is(err, membershipdomain.ErrInvalidID),
		errors.Is(err, membershipdomain.ErrInvalidLevel),
		errors.Is(err, membershipdomain.ErrInvalidOperation),
		errors.Is(err, membershipdomain.ErrInvalidDateRange),
		errors.Is(err, membershipdomain.ErrLevelInactive),
		errors.Is(err, membershipdomain.ErrDuplicateActiveMembership),
		errors.Is(err, membershipdomain.ErrNoMembershipToExtend),
		errors.Is(err, membershipdomain.ErrInvalidLevelTransition),
		errors.Is(err, membershipdomain.ErrNoActiveMembership):
		return true
	default:
		return false
	}
}

func isEventValidationError(err error) bool {
	switch {
	case errors.Is(err, eventdomain.ErrInvalidID),
		errors.Is(err, eventdomain.ErrInvalidTitle),
		errors.Is(err, eventdomain.ErrInvalidStatus),
		errors.Is(err, eventdomain.ErrInvalidCapacity),
		errors.Is(err, eventdomain.ErrInvalidCurrency),
		errors.Is(err, eventdomain.ErrInvalidSchedule),
		errors.Is(err, eventdomain.ErrInvalidPrice),
		errors.Is(err, eventdomain.ErrInvalidGuest),
		errors.Is(err, eventdomain.ErrEventNotOpen),
		errors.Is(err, eventdomain.ErrEventFull),
		errors.Is(err, eventdomain.ErrPriceInactive),
		errors.Is(err, eventdomain.ErrQuotaExceeded),
		errors.Is(err, eventdomain.ErrDuplicatePrice),
		errors.Is(err, eventdomain.ErrAlreadyRegistered),
		errors.Is(err, eventdomain.ErrInvalidRegistrationState):
		return true
	default:
		return false
	}
}

func isPaymentValidationError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotConfigured),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidCurrency):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, orderdomain.ErrPaymentNotFound),
		errors.Is(err, membershipdomain.ErrNotFound),
		errors.Is(err, membershipdomain.ErrLevelNotFound),
		errors.Is(err, eventdomain.ErrEventNotFound),
		errors.Is(err, eventdomain.ErrRegistrationNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, userdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "event_full":
		return "event is full"
	case "already_registered":
		return "already registered for this event"
	case "duplicate_active_membership":
		return "user already has an active membership"
	case "no_membership_to_extend":
		return "user has no membership to extend"
	case "no_active_membership":
		return "user has no active membership to change"
	case "invalid_level_transition":
		return "level priority does not allow this change"
	case "invalid_state_transition":
		return "order is not in a state that allows this action"
	default:
		return "invalid value"
	}
}
