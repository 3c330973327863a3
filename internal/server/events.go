package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/memberhub/internal/authorization"
	eventdomain "github.com/smallbiznis/memberhub/internal/event/domain"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	"go.uber.org/zap"
)

func (s *Server) GetEvent(c *gin.Context) {
	detail, err := s.eventSvc.GetEvent(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	visible := detail.Event.IsPublic && detail.Event.Status != eventdomain.EventStatusDraft
	if !visible && !s.isAllowed(c, authorization.ObjectEvent, authorization.ActionEventCreate) {
		AbortWithError(c, eventdomain.ErrEventNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

type guestRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type createRegistrationRequest struct {
	Provider string        `json:"provider"`
	Guest    *guestRequest `json:"guest"`
}

type registrationResponse struct {
	Registration *eventdomain.Registration `json:"registration"`
	Order        *orderdomain.Order        `json:"order,omitempty"`
	PaymentID    string                    `json:"payment_id,omitempty"`
	ClientSecret string                    `json:"client_secret,omitempty"`
}

// CreateRegistration registers the caller, or a guest when no identity is
// present, and opens the matching checkout. Free registrations are confirmed
// immediately.
func (s *Server) CreateRegistration(c *gin.Context) {
	var req createRegistrationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	ctx := c.Request.Context()
	detail, err := s.eventSvc.GetEvent(ctx, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	event := detail.Event

	create := eventdomain.CreateRegistrationRequest{EventID: event.ID}
	userID, isMember := userIDFromContext(c)
	if isMember {
		create.UserID = &userID
		membership, err := s.membershipSvc.GetActiveMembership(ctx, userID)
		switch {
		case err == nil:
			levelID := membership.MembershipLevelID
			create.MembershipLevelID = &levelID
		case !errors.Is(err, membershipdomain.ErrNotFound):
			AbortWithError(c, err)
			return
		}
	} else {
		if req.Guest == nil {
			AbortWithError(c, newValidationError("guest", "invalid_guest", "guest details are required"))
			return
		}
		create.Guest = &eventdomain.GuestInput{
			Name:  req.Guest.Name,
			Email: req.Guest.Email,
			Phone: req.Guest.Phone,
		}
	}

	registration, err := s.eventSvc.CreateRegistration(ctx, create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := registrationResponse{Registration: registration}
	switch {
	case !registration.Price.IsPositive():
		paid, err := s.eventSvc.ProcessEventPayment(ctx, registration.ID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		resp.Registration = paid
	case isMember:
		order, err := s.orderSvc.CreateOrder(ctx, orderdomain.CreateOrderRequest{
			UserID:          &userID,
			Type:            orderdomain.OrderTypeEvent,
			Provider:        strings.TrimSpace(req.Provider),
			Amount:          registration.Price,
			Currency:        event.Currency,
			ReferenceID:     registration.ID.String(),
			ReferenceType:   orderdomain.ReferenceTypeEventRegistration,
			TransactionType: orderdomain.TransactionTypeEventMember,
			Metadata: map[string]string{
				orderdomain.MetadataRegistrationID: registration.ID.String(),
			},
		})
		if err != nil {
			s.releaseRegistration(c, registration.ID, err)
			AbortWithError(c, err)
			return
		}
		resp.Order = &order.Order
		resp.PaymentID = order.Payment.PublicID
		resp.ClientSecret = order.ClientSecret
	default:
		checkout, err := s.startGuestCheckout(c, registration.ID, registration.Price, event.Currency, create.Guest.Email, req.Provider)
		if err != nil {
			s.releaseRegistration(c, registration.ID, err)
			AbortWithError(c, err)
			return
		}
		resp.PaymentID = checkout.PaymentID
		resp.ClientSecret = checkout.ClientSecret
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type guestCheckoutView struct {
	PaymentID    string `json:"payment_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

func (s *Server) startGuestCheckout(c *gin.Context, registrationID snowflake.ID, amount decimal.Decimal, currency, email, provider string) (guestCheckoutView, error) {
	resp, err := s.orderSvc.CreateGuestCheckout(c.Request.Context(), orderdomain.GuestCheckoutRequest{
		RegistrationID: registrationID,
		Provider:       strings.TrimSpace(provider),
		Amount:         amount,
		Currency:       currency,
		Email:          strings.TrimSpace(email),
	})
	if err != nil {
		return guestCheckoutView{}, err
	}
	return guestCheckoutView{PaymentID: resp.Payment.PublicID, ClientSecret: resp.ClientSecret}, nil
}

// releaseRegistration frees the seat taken by a registration whose checkout
// could not be opened.
func (s *Server) releaseRegistration(c *gin.Context, registrationID snowflake.ID, cause error) {
	if err := s.eventSvc.CancelRegistration(c.Request.Context(), registrationID); err != nil {
		s.log.Warn("release registration failed",
			zap.Error(err),
			zap.String("registration_id", registrationID.String()),
			zap.NamedError("cause", cause),
		)
	}
}

type createEventRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	IsPublic    bool       `json:"is_public"`
	Capacity    *int       `json:"capacity"`
	Currency    string     `json:"currency"`
	Tags        []string   `json:"tags"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
}

func (s *Server) CreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, err := s.eventSvc.CreateEvent(c.Request.Context(), eventdomain.CreateEventRequest{
		Title:       req.Title,
		Description: req.Description,
		Status:      eventdomain.EventStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		IsPublic:    req.IsPublic,
		Capacity:    req.Capacity,
		Currency:    req.Currency,
		Tags:        req.Tags,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}

type addPriceRequest struct {
	MembershipLevelID string          `json:"membership_level_id"`
	Price             decimal.Decimal `json:"price"`
	Quota             *int            `json:"quota"`
	Inactive          bool            `json:"inactive"`
}

func (s *Server) AddEventPrice(c *gin.Context) {
	eventID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req addPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	levelID, err := parseOptionalSnowflakeID(req.MembershipLevelID)
	if err != nil {
		AbortWithError(c, newValidationError("membership_level_id", "invalid_membership_level", "invalid membership level"))
		return
	}

	price, err := s.eventSvc.AddPrice(c.Request.Context(), eventdomain.AddPriceRequest{
		EventID:           eventID,
		MembershipLevelID: levelID,
		Price:             req.Price,
		Quota:             req.Quota,
		Inactive:          req.Inactive,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": price})
}

func (s *Server) ListRegistrations(c *gin.Context) {
	eventID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	registrations, err := s.eventSvc.ListRegistrations(c.Request.Context(), eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": registrations})
}

func (s *Server) MarkAttended(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	registration, err := s.eventSvc.MarkAttended(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": registration})
}

// CancelRegistration also cancels any pending order opened for it.
func (s *Server) CancelRegistration(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.eventSvc.CancelRegistration(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
