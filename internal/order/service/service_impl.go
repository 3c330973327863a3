package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	"github.com/smallbiznis/memberhub/internal/order/domain"
	"github.com/smallbiznis/memberhub/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/pkg/db/pagination"
	"github.com/smallbiznis/memberhub/pkg/publicid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultExpireBatch = 200

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	PaymentRepo paymentdomain.Repository
	Providers   *adapters.Registry
	Policy      *config.PolicyHolder `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	paymentRepo paymentdomain.Repository
	providers   *adapters.Registry
	policy      *config.PolicyHolder
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("order.service"),
		genID:       p.GenID,
		clock:       clk,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		providers:   p.Providers,
		policy:      p.Policy,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResponse, error) {
	policy := s.policy.Get()

	if !req.Type.Valid() {
		return domain.CreateOrderResponse{}, domain.ErrInvalidType
	}
	if !req.Amount.IsPositive() {
		return domain.CreateOrderResponse{}, domain.ErrInvalidAmount
	}
	currency := normalizeCurrency(req.Currency, policy.DefaultCurrency)
	if currency == "" {
		return domain.CreateOrderResponse{}, domain.ErrInvalidCurrency
	}

	breakdown := domain.Breakdown{
		Base:     req.Amount,
		AdminFee: req.AdminFee,
		Tax:      req.Tax,
		Discount: req.Discount,
	}
	if !breakdown.AdminFee.Valid && policy.AdminFeePercent > 0 {
		fee := req.Amount.Mul(decimal.NewFromFloat(policy.AdminFeePercent)).Div(decimal.NewFromInt(100)).Round(2)
		breakdown.AdminFee = decimal.NewNullDecimal(fee)
	}
	gross := breakdown.Total()
	if !gross.IsPositive() {
		return domain.CreateOrderResponse{}, domain.ErrInvalidAmount
	}

	providerName := strings.TrimSpace(req.Provider)
	if providerName == "" {
		providerName = string(paymentdomain.ProviderStripe)
	}
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}

	now := s.clock.Now()
	orderNumber, err := s.allocateOrderNumber(ctx, now)
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}

	order := domain.Order{
		ID:          s.genID.Generate(),
		PublicID:    publicid.New(publicid.PrefixOrder),
		UserID:      req.UserID,
		OrderNumber: orderNumber,
		Type:        req.Type,
		Status:      domain.OrderStatusPending,
		GrossAmount: gross,
		Currency:    currency,
		Breakdown:   breakdown,
		Metadata:    toJSONMap(req.Metadata),
		Notes:       strings.TrimSpace(req.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	setReference(&order, req.ReferenceID, req.ReferenceType)
	if policy.OrderExpiryMinutes > 0 {
		expiresAt := now.Add(time.Duration(policy.OrderExpiryMinutes) * time.Minute)
		order.ExpiresAt = &expiresAt
	}

	payment := paymentdomain.Payment{
		ID:        s.genID.Generate(),
		PublicID:  publicid.New(publicid.PrefixPayment),
		OrderID:   &order.ID,
		Provider:  provider.Name(),
		Status:    paymentdomain.PaymentStatusPending,
		Amount:    gross,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	intentMetadata := map[string]string{}
	for key, value := range req.Metadata {
		intentMetadata[key] = value
	}
	intentMetadata[domain.MetadataOrderID] = order.ID.String()
	intentMetadata[domain.MetadataPaymentID] = payment.ID.String()
	intentMetadata[domain.MetadataPaymentPublicID] = payment.PublicID
	if txType := resolveTransactionType(req.TransactionType, req.Type); txType != "" {
		intentMetadata[domain.MetadataTransactionType] = txType
		order.Metadata[domain.MetadataTransactionType] = txType
	}
	payment.Metadata = toJSONMap(intentMetadata)

	intent, err := provider.CreatePaymentIntent(ctx, paymentdomain.IntentRequest{
		Amount:   gross,
		Currency: currency,
		OrderID:  order.ID.String(),
		Metadata: intentMetadata,
	})
	if err != nil {
		return domain.CreateOrderResponse{}, fmt.Errorf("create payment intent: %w", err)
	}
	ref := intent.PaymentIntentID
	payment.ProviderRef = &ref

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &order); err != nil {
			return err
		}
		return s.paymentRepo.Insert(ctx, tx, &payment)
	})
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}

	s.obsMetrics.RecordOrderCreated(ctx, "checkout", string(payment.Provider))
	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("provider", string(payment.Provider)),
		zap.String("provider_ref", ref),
	)

	return domain.CreateOrderResponse{
		Order:        order,
		Payment:      payment,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// CreateAdminOrder records a payment taken outside any processor. The order
// is created already PAID with a single SUCCEEDED ADMIN payment.
func (s *Service) CreateAdminOrder(ctx context.Context, req domain.CreateAdminOrderRequest) (domain.OrderDetail, error) {
	policy := s.policy.Get()

	if !req.Type.Valid() {
		return domain.OrderDetail{}, domain.ErrInvalidType
	}
	if !req.Amount.IsPositive() {
		return domain.OrderDetail{}, domain.ErrInvalidAmount
	}
	currency := normalizeCurrency(req.Currency, policy.DefaultCurrency)
	if currency == "" {
		return domain.OrderDetail{}, domain.ErrInvalidCurrency
	}

	provider, err := s.providers.Get(string(paymentdomain.ProviderAdmin))
	if err != nil {
		return domain.OrderDetail{}, err
	}

	now := s.clock.Now()
	orderNumber, err := s.allocateOrderNumber(ctx, now)
	if err != nil {
		return domain.OrderDetail{}, err
	}

	order := domain.Order{
		ID:          s.genID.Generate(),
		PublicID:    publicid.New(publicid.PrefixOrder),
		UserID:      req.UserID,
		OrderNumber: orderNumber,
		Type:        req.Type,
		Status:      domain.OrderStatusPaid,
		GrossAmount: req.Amount,
		Currency:    currency,
		Breakdown:   domain.Breakdown{Base: req.Amount},
		Metadata:    toJSONMap(req.Metadata),
		Notes:       strings.TrimSpace(req.Notes),
		PaidAt:      &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	setReference(&order, req.ReferenceID, req.ReferenceType)

	intent, err := provider.CreatePaymentIntent(ctx, paymentdomain.IntentRequest{
		Amount:   req.Amount,
		Currency: currency,
		OrderID:  order.ID.String(),
	})
	if err != nil {
		return domain.OrderDetail{}, err
	}
	ref := intent.PaymentIntentID

	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = "manual"
	}
	payment := paymentdomain.Payment{
		ID:            s.genID.Generate(),
		PublicID:      publicid.New(publicid.PrefixPayment),
		OrderID:       &order.ID,
		Provider:      paymentdomain.ProviderAdmin,
		Status:        paymentdomain.PaymentStatusSucceeded,
		Amount:        req.Amount,
		Currency:      currency,
		FeeAmount:     decimal.NewNullDecimal(decimal.Zero),
		NetAmount:     decimal.NewNullDecimal(req.Amount),
		ProviderRef:   &ref,
		PaymentMethod: method,
		Metadata:      datatypes.JSONMap{domain.MetadataOrderID: order.ID.String()},
		ProcessedAt:   &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &order); err != nil {
			return err
		}
		return s.paymentRepo.Insert(ctx, tx, &payment)
	})
	if err != nil {
		return domain.OrderDetail{}, err
	}

	s.obsMetrics.RecordOrderCreated(ctx, "admin", string(paymentdomain.ProviderAdmin))
	s.obsMetrics.RecordPaymentSettled(ctx, string(paymentdomain.ProviderAdmin), string(paymentdomain.PaymentStatusSucceeded))
	s.log.Info("admin order recorded",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("amount", order.GrossAmount.StringFixed(2)),
		zap.String("currency", currency),
	)

	return domain.OrderDetail{Order: order, Payments: []paymentdomain.Payment{payment}}, nil
}

// CreateGuestCheckout starts a payment-only checkout for a guest event
// registration. No order row is written; the webhook settles the
// registration straight from the payment metadata.
func (s *Service) CreateGuestCheckout(ctx context.Context, req domain.GuestCheckoutRequest) (domain.GuestCheckoutResponse, error) {
	policy := s.policy.Get()

	if req.RegistrationID == 0 {
		return domain.GuestCheckoutResponse{}, domain.ErrInvalidID
	}
	if !req.Amount.IsPositive() {
		return domain.GuestCheckoutResponse{}, domain.ErrInvalidAmount
	}
	currency := normalizeCurrency(req.Currency, policy.DefaultCurrency)
	if currency == "" {
		return domain.GuestCheckoutResponse{}, domain.ErrInvalidCurrency
	}

	providerName := strings.TrimSpace(req.Provider)
	if providerName == "" {
		providerName = string(paymentdomain.ProviderStripe)
	}
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return domain.GuestCheckoutResponse{}, err
	}

	now := s.clock.Now()
	payment := paymentdomain.Payment{
		ID:        s.genID.Generate(),
		PublicID:  publicid.New(publicid.PrefixPayment),
		Provider:  provider.Name(),
		Status:    paymentdomain.PaymentStatusPending,
		Amount:    req.Amount,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	metadata := map[string]string{}
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	metadata[domain.MetadataTransactionType] = domain.TransactionTypeEventGuest
	metadata[domain.MetadataRegistrationID] = req.RegistrationID.String()
	metadata[domain.MetadataPaymentID] = payment.ID.String()
	metadata[domain.MetadataPaymentPublicID] = payment.PublicID
	if email := strings.TrimSpace(req.Email); email != "" {
		metadata["guest_email"] = email
	}
	payment.Metadata = toJSONMap(metadata)

	intent, err := provider.CreatePaymentIntent(ctx, paymentdomain.IntentRequest{
		Amount:   req.Amount,
		Currency: currency,
		Metadata: metadata,
	})
	if err != nil {
		return domain.GuestCheckoutResponse{}, fmt.Errorf("create payment intent: %w", err)
	}
	ref := intent.PaymentIntentID
	payment.ProviderRef = &ref

	if err := s.paymentRepo.Insert(ctx, s.db, &payment); err != nil {
		return domain.GuestCheckoutResponse{}, err
	}

	s.log.Info("guest checkout created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("registration_id", req.RegistrationID.String()),
		zap.String("provider", string(payment.Provider)),
	)

	return domain.GuestCheckoutResponse{Payment: payment, ClientSecret: intent.ClientSecret}, nil
}

func (s *Service) CancelOrder(ctx context.Context, publicID string) (domain.Order, error) {
	order, err := s.findByPublicID(ctx, publicID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.cancelTx(ctx, tx, order.ID, now)
	})
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = now
	return *order, nil
}

func (s *Service) RefundOrder(ctx context.Context, req domain.RefundOrderRequest) (domain.Order, error) {
	order, err := s.findByPublicID(ctx, req.PublicID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusRefunded) {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	if req.Amount.Valid && (!req.Amount.Decimal.IsPositive() || req.Amount.Decimal.GreaterThan(order.GrossAmount)) {
		return domain.Order{}, domain.ErrInvalidRefundAmount
	}

	payments, err := s.paymentRepo.ListByOrder(ctx, s.db, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	var settled *paymentdomain.Payment
	for i := range payments {
		if payments[i].Status == paymentdomain.PaymentStatusSucceeded {
			settled = &payments[i]
			break
		}
	}
	if settled == nil || settled.ProviderRef == nil {
		return domain.Order{}, domain.ErrPaymentNotFound
	}

	provider, err := s.providers.Get(string(settled.Provider))
	if err != nil {
		return domain.Order{}, err
	}
	result, err := provider.RefundPayment(ctx, paymentdomain.RefundRequest{
		PaymentIntentID: *settled.ProviderRef,
		Amount:          req.Amount,
		Currency:        settled.Currency,
		Reason:          req.Reason,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("refund payment: %w", err)
	}

	now := s.clock.Now()
	updated, err := s.repo.TransitionStatus(ctx, s.db, order.ID, domain.OrderStatusPaid, domain.OrderStatusRefunded, now)
	if err != nil {
		return domain.Order{}, err
	}
	if !updated {
		return domain.Order{}, domain.ErrInvalidStateTransition
	}
	s.obsMetrics.RecordOrderTransition(ctx, string(domain.OrderStatusRefunded))
	s.log.Info("order refunded",
		zap.String("order_id", order.ID.String()),
		zap.String("refund_id", result.RefundID),
		zap.String("amount", result.Amount.StringFixed(2)),
	)

	order.Status = domain.OrderStatusRefunded
	order.UpdatedAt = now
	return *order, nil
}

// CancelOrderByReference cancels PENDING orders pointing at a deleted
// resource. Nothing matching is not an error.
func (s *Service) CancelOrderByReference(ctx context.Context, referenceID, referenceType string) (int, error) {
	var cancelled int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.CancelOrderByReferenceTx(ctx, tx, referenceID, referenceType)
		cancelled = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}

// CancelOrderByReferenceTx cancels on the caller's transaction, together with
// the open payments of each order.
func (s *Service) CancelOrderByReferenceTx(ctx context.Context, tx *gorm.DB, referenceID, referenceType string) (int, error) {
	referenceID = strings.TrimSpace(referenceID)
	referenceType = strings.ToUpper(strings.TrimSpace(referenceType))
	if referenceID == "" || referenceType == "" {
		return 0, nil
	}

	orders, err := s.repo.FindPendingByReference(ctx, tx, referenceID, referenceType)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	cancelled := 0
	for _, order := range orders {
		err := s.cancelTx(ctx, tx, order.ID, now)
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			continue
		}
		if err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

func (s *Service) GetOrder(ctx context.Context, publicID string) (domain.OrderDetail, error) {
	order, err := s.findByPublicID(ctx, publicID)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	payments, err := s.paymentRepo.ListByOrder(ctx, s.db, order.ID)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	if payments == nil {
		payments = []paymentdomain.Payment{}
	}
	return domain.OrderDetail{Order: *order, Payments: payments}, nil
}

func (s *Service) ListOrders(ctx context.Context, req domain.ListOrderRequest) (domain.ListOrderResponse, error) {
	filter := domain.ListOrderFilter{UserID: req.UserID}
	if status := strings.ToUpper(strings.TrimSpace(req.Status)); status != "" {
		filter.Status = domain.OrderStatus(status)
		if !filter.Status.Valid() {
			return domain.ListOrderResponse{}, domain.ErrInvalidStatus
		}
	}
	if orderType := strings.ToUpper(strings.TrimSpace(req.Type)); orderType != "" {
		filter.Type = domain.OrderType(orderType)
		if !filter.Type.Valid() {
			return domain.ListOrderResponse{}, domain.ErrInvalidType
		}
	}

	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return domain.ListOrderResponse{}, err
	}

	page, pageInfo := pagination.BuildCursorPageInfo(items, req.Pagination.Size(), func(o *domain.Order) string {
		return o.ID.String()
	})
	orders := make([]domain.Order, 0, len(page))
	for _, item := range page {
		orders = append(orders, *item)
	}

	resp := domain.ListOrderResponse{Orders: orders}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// ExpirePendingOrders cancels PENDING orders whose expires_at has passed.
func (s *Service) ExpirePendingOrders(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultExpireBatch
	}
	orders, err := s.repo.ListExpiredPending(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range orders {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.cancelTx(ctx, tx, order.ID, now)
		})
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			// Settled by a webhook between the scan and the update.
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.log.Info("expired pending orders", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *Service) FindByIDTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

// MarkPaidTx settles a PENDING order. An order that is already PAID is left
// untouched so replays stay harmless.
func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidAt time.Time) error {
	updated, err := s.repo.TransitionStatus(ctx, tx, id, domain.OrderStatusPending, domain.OrderStatusPaid, paidAt)
	if err != nil {
		return err
	}
	if updated {
		s.obsMetrics.RecordOrderTransition(ctx, string(domain.OrderStatusPaid))
		return nil
	}

	order, err := s.FindByIDTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderStatusPaid {
		return nil
	}
	return domain.ErrInvalidStateTransition
}

// MarkFailedTx fails the order only while it is still PENDING.
func (s *Service) MarkFailedTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error {
	updated, err := s.repo.TransitionStatus(ctx, tx, id, domain.OrderStatusPending, domain.OrderStatusFailed, at)
	if err != nil {
		return err
	}
	if updated {
		s.obsMetrics.RecordOrderTransition(ctx, string(domain.OrderStatusFailed))
	}
	return nil
}

func (s *Service) cancelTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) error {
	updated, err := s.repo.TransitionStatus(ctx, tx, id, domain.OrderStatusPending, domain.OrderStatusCancelled, now)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrInvalidStateTransition
	}
	if _, err := s.paymentRepo.CancelOpenByOrder(ctx, tx, id, now); err != nil {
		return err
	}
	s.obsMetrics.RecordOrderTransition(ctx, string(domain.OrderStatusCancelled))
	return nil
}

func (s *Service) allocateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	period := now.UTC().Format("200601")
	seq, err := s.repo.NextOrderNumber(ctx, s.db, period)
	if err != nil {
		return "", fmt.Errorf("allocate order number: %w", err)
	}
	return FormatOrderNumber(period, seq), nil
}

// FormatOrderNumber renders ORD-YYYYMM-NNNN; the counter widens past 9999.
func FormatOrderNumber(period string, seq int64) string {
	return fmt.Sprintf("ORD-%s-%04d", period, seq)
}

func (s *Service) findByPublicID(ctx context.Context, publicID string) (*domain.Order, error) {
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return nil, domain.ErrInvalidID
	}
	order, err := s.repo.FindByPublicID(ctx, s.db, publicID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func resolveTransactionType(explicit string, orderType domain.OrderType) string {
	if value := strings.ToLower(strings.TrimSpace(explicit)); value != "" {
		return value
	}
	switch orderType {
	case domain.OrderTypeMembership:
		return domain.TransactionTypeMembership
	case domain.OrderTypeEvent:
		return domain.TransactionTypeEventMember
	default:
		return ""
	}
}

func setReference(order *domain.Order, referenceID, referenceType string) {
	referenceID = strings.TrimSpace(referenceID)
	referenceType = strings.ToUpper(strings.TrimSpace(referenceType))
	if referenceID == "" || referenceType == "" {
		return
	}
	order.ReferenceID = &referenceID
	order.ReferenceType = &referenceType
}

func normalizeCurrency(value, fallback string) string {
	currency := strings.ToUpper(strings.TrimSpace(value))
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(fallback))
	}
	if len(currency) != 3 {
		return ""
	}
	return currency
}

func toJSONMap(values map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
