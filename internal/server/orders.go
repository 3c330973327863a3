package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/memberhub/internal/authorization"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/internal/providers/pdf"
	"github.com/smallbiznis/memberhub/pkg/db/pagination"
)

const receiptDateLayout = "2006-01-02"

type createOrderRequest struct {
	Type              string          `json:"type"`
	Provider          string          `json:"provider"`
	MembershipLevelID string          `json:"membership_level_id"`
	OperationType     string          `json:"operation_type"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Notes             string          `json:"notes"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, _ := userIDFromContext(c)
	orderType := orderdomain.OrderType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if orderType == "" {
		orderType = orderdomain.OrderTypeMembership
	}

	create := orderdomain.CreateOrderRequest{
		UserID:   &userID,
		Type:     orderType,
		Provider: strings.TrimSpace(req.Provider),
		Notes:    req.Notes,
	}

	switch orderType {
	case orderdomain.OrderTypeMembership:
		levelID, err := snowflake.ParseString(strings.TrimSpace(req.MembershipLevelID))
		if err != nil || levelID <= 0 {
			AbortWithError(c, newValidationError("membership_level_id", "invalid_membership_level", "invalid membership level"))
			return
		}
		operation := membershipdomain.OperationNew
		if strings.TrimSpace(req.OperationType) != "" {
			parsed, ok := membershipdomain.ParseOperation(req.OperationType)
			if !ok {
				AbortWithError(c, newValidationError("operation_type", "invalid_membership_operation", "invalid operation type"))
				return
			}
			operation = parsed
		}

		level, err := s.membershipSvc.GetLevel(c.Request.Context(), levelID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		target, err := s.membershipSvc.ValidateCheckout(c.Request.Context(), membershipdomain.CheckoutRequest{
			UserID:    userID,
			LevelID:   level.ID,
			Operation: operation,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		create.Amount = level.Price
		create.Currency = level.Currency
		// orders that act on an existing membership point at it so deleting
		// the membership cancels them
		if target != nil {
			create.ReferenceID = target.ID.String()
			create.ReferenceType = orderdomain.ReferenceTypeMembership
		}
		create.TransactionType = orderdomain.TransactionTypeMembership
		create.Metadata = map[string]string{
			orderdomain.MetadataMembershipLevelID: level.ID.String(),
			orderdomain.MetadataOperationType:     string(operation),
		}
	case orderdomain.OrderTypeOther:
		create.Amount = req.Amount
		create.Currency = req.Currency
	default:
		// Event orders are opened through the registration endpoint.
		AbortWithError(c, newValidationError("type", "invalid_order_type", "unsupported order type"))
		return
	}

	resp, err := s.orderSvc.CreateOrder(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type guestCheckoutRequest struct {
	RegistrationID string `json:"registration_id"`
	Provider       string `json:"provider"`
}

// GuestCheckout opens a new payment for a pending guest registration, for
// example after an abandoned card form.
func (s *Server) GuestCheckout(c *gin.Context) {
	var req guestCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	registrationID, err := snowflake.ParseString(strings.TrimSpace(req.RegistrationID))
	if err != nil || registrationID <= 0 {
		AbortWithError(c, newValidationError("registration_id", "invalid_id", "invalid registration id"))
		return
	}

	ctx := c.Request.Context()
	registration, err := s.eventSvc.GetRegistration(ctx, registrationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !registration.IsGuest() || registration.Guest == nil {
		AbortWithError(c, newValidationError("registration_id", "invalid_registration_state", "registration is not a guest registration"))
		return
	}

	detail, err := s.eventSvc.GetEvent(ctx, registration.EventID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.startGuestCheckout(c, registration.ID, registration.Price, detail.Event.Currency, registration.Guest.Email, req.Provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOrder(c *gin.Context) {
	detail, err := s.loadOwnedOrder(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

func (s *Server) CancelOrder(c *gin.Context) {
	detail, err := s.loadOwnedOrder(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.CancelOrder(c.Request.Context(), detail.Order.PublicID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) GetOrderReceipt(c *gin.Context) {
	detail, err := s.loadOwnedOrder(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order := detail.Order
	if order.PaidAt == nil || (order.Status != orderdomain.OrderStatusPaid && order.Status != orderdomain.OrderStatusRefunded) {
		AbortWithError(c, pdf.ErrReceiptNotPaid)
		return
	}

	data := pdf.ReceiptData{
		OrgName:     s.cfg.AppName,
		OrderNumber: order.OrderNumber,
		OrderID:     order.PublicID,
		DatePaid:    order.PaidAt.UTC().Format(receiptDateLayout),
		Lines:       receiptLines(order),
		Total:       formatMoney(order.GrossAmount, order.Currency),
	}
	if payment := settledPayment(detail.Payments); payment != nil {
		data.Provider = string(payment.Provider)
		data.Method = payment.PaymentMethod
	}
	if order.UserID != nil {
		user, err := s.users.FindByID(c.Request.Context(), s.db, *order.UserID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if user != nil {
			data.BillToName = user.Name
			data.BillToEmail = user.Email
		}
	}

	reader, err := s.receipts.GenerateReceipt(c.Request.Context(), data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, -1, "application/pdf", reader, map[string]string{
		"Content-Disposition": fmt.Sprintf(`inline; filename="%s.pdf"`, order.OrderNumber),
	})
}

type createAdminOrderRequest struct {
	UserID        string            `json:"user_id"`
	Type          string            `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	ReferenceID   string            `json:"reference_id"`
	ReferenceType string            `json:"reference_type"`
	Metadata      map[string]string `json:"metadata"`
	Notes         string            `json:"notes"`
}

func (s *Server) CreateAdminOrder(c *gin.Context) {
	var req createAdminOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseOptionalSnowflakeID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	detail, err := s.orderSvc.CreateAdminOrder(c.Request.Context(), orderdomain.CreateAdminOrderRequest{
		UserID:        userID,
		Type:          orderdomain.OrderType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Metadata:      req.Metadata,
		Notes:         req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

type refundOrderRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

func (s *Server) RefundOrder(c *gin.Context) {
	var req refundOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	refund := orderdomain.RefundOrderRequest{
		PublicID: strings.TrimSpace(c.Param("public_id")),
		Reason:   req.Reason,
	}
	if req.Amount != nil {
		refund.Amount = decimal.NewNullDecimal(*req.Amount)
	}

	order, err := s.orderSvc.RefundOrder(c.Request.Context(), refund)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

type listOrdersQuery struct {
	pagination.Pagination
	UserID string `form:"user_id"`
	Status string `form:"status"`
	Type   string `form:"type"`
}

func (s *Server) ListOrders(c *gin.Context) {
	var query listOrdersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseOptionalSnowflakeID(query.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	resp, err := s.orderSvc.ListOrders(c.Request.Context(), orderdomain.ListOrderRequest{
		Pagination: query.Pagination,
		UserID:     userID,
		Status:     query.Status,
		Type:       query.Type,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// loadOwnedOrder returns the order named in the path when it belongs to the
// caller or the caller may list all orders. Other orders read as not found.
func (s *Server) loadOwnedOrder(c *gin.Context) (orderdomain.OrderDetail, error) {
	publicID := strings.TrimSpace(c.Param("public_id"))
	if publicID == "" {
		return orderdomain.OrderDetail{}, orderdomain.ErrInvalidID
	}

	detail, err := s.orderSvc.GetOrder(c.Request.Context(), publicID)
	if err != nil {
		return orderdomain.OrderDetail{}, err
	}

	userID, _ := userIDFromContext(c)
	if detail.Order.UserID != nil && *detail.Order.UserID == userID {
		return detail, nil
	}
	if s.isAllowed(c, authorization.ObjectOrder, authorization.ActionOrderList) {
		return detail, nil
	}
	return orderdomain.OrderDetail{}, orderdomain.ErrNotFound
}

func receiptLines(order orderdomain.Order) []pdf.ReceiptLine {
	lines := []pdf.ReceiptLine{{
		Description: receiptDescription(order),
		Amount:      formatMoney(order.Breakdown.Base, order.Currency),
	}}
	if order.Breakdown.AdminFee.Valid && !order.Breakdown.AdminFee.Decimal.IsZero() {
		lines = append(lines, pdf.ReceiptLine{Description: "Admin fee", Amount: formatMoney(order.Breakdown.AdminFee.Decimal, order.Currency)})
	}
	if order.Breakdown.Tax.Valid && !order.Breakdown.Tax.Decimal.IsZero() {
		lines = append(lines, pdf.ReceiptLine{Description: "Tax", Amount: formatMoney(order.Breakdown.Tax.Decimal, order.Currency)})
	}
	if order.Breakdown.Discount.Valid && !order.Breakdown.Discount.Decimal.IsZero() {
		lines = append(lines, pdf.ReceiptLine{Description: "Discount", Amount: formatMoney(order.Breakdown.Discount.Decimal.Neg(), order.Currency)})
	}
	return lines
}

func receiptDescription(order orderdomain.Order) string {
	switch order.Type {
	case orderdomain.OrderTypeMembership:
		return "Membership"
	case orderdomain.OrderTypeEvent:
		return "Event registration"
	default:
		if notes := strings.TrimSpace(order.Notes); notes != "" {
			return notes
		}
		return "Order " + order.OrderNumber
	}
}

func settledPayment(payments []paymentdomain.Payment) *paymentdomain.Payment {
	for i := range payments {
		if payments[i].Status == paymentdomain.PaymentStatusSucceeded {
			return &payments[i]
		}
	}
	return nil
}

func formatMoney(amount decimal.Decimal, currency string) string {
	return strings.TrimSpace(currency + " " + amount.StringFixed(2))
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return nil, ErrInvalidRequest
	}
	return &parsed, nil
}

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || parsed <= 0 {
		return 0, newValidationError(name, "invalid_id", "invalid id")
	}
	return parsed, nil
}
