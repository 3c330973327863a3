package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	eventdomain "github.com/smallbiznis/memberhub/internal/event/domain"
	"github.com/smallbiznis/memberhub/internal/lock"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	"github.com/smallbiznis/memberhub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	"github.com/smallbiznis/memberhub/internal/payment/adapters"
	"github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/internal/providers/slack"
	"github.com/smallbiznis/memberhub/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultReferenceLockTTL = 30 * time.Second

const (
	outcomeSettled        = "settled"
	outcomeAlreadySettled = "already_settled"
	outcomeOrderNotPaid   = "order_not_payable"
	outcomeFailed         = "failed"
	outcomeStaleFailure   = "stale_failure"
	outcomeNotTracked     = "not_tracked"
	outcomeDuplicate      = "duplicate"
	outcomeIgnored        = "ignored"
	outcomeError          = "error"
)

type eventKind int

const (
	kindIgnored eventKind = iota
	kindSuccess
	kindFailure
)

func classify(eventType string) eventKind {
	switch eventType {
	case domain.EventCheckoutSessionCompleted, domain.EventPaymentIntentSucceeded, domain.EventChargeSucceeded:
		return kindSuccess
	case domain.EventPaymentIntentFailed, domain.EventChargeFailed:
		return kindFailure
	}
	return kindIgnored
}

// Result is the acknowledgement returned to the provider.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Repo          domain.Repository
	Providers     *adapters.Registry
	OrderSvc      orderdomain.Service
	MembershipSvc membershipdomain.Service
	EventSvc      eventdomain.Service
	Locker        *lock.Locker        `optional:"true"`
	Slack         slack.Provider      `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	providers     *adapters.Registry
	orderSvc      orderdomain.Service
	membershipSvc membershipdomain.Service
	eventSvc      eventdomain.Service
	locker        *lock.Locker
	lockTTL       time.Duration
	slack         slack.Provider
	slackChannel  string
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	alerts := p.Slack
	if alerts == nil {
		alerts = &slack.NoOpProvider{}
	}
	ttl := p.Cfg.Jobs.WebhookReferenceLockTTL
	if ttl <= 0 {
		ttl = defaultReferenceLockTTL
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.webhook"),
		genID:         p.GenID,
		clock:         clk,
		repo:          p.Repo,
		providers:     p.Providers,
		orderSvc:      p.OrderSvc,
		membershipSvc: p.MembershipSvc,
		eventSvc:      p.EventSvc,
		locker:        p.Locker,
		lockTTL:       ttl,
		slack:         alerts,
		slackChannel:  p.Cfg.Slack.Channel,
		obsMetrics:    p.ObsMetrics,
	}
}

// reconciliation collects what the transaction decided so the follow-up
// work can run after commit.
type reconciliation struct {
	result          Result
	outcome         string
	transactionType string
	registrationID  snowflake.ID
	alert           slack.PaymentAlert
}

// ProcessWebhook verifies a provider callback and applies it at most once.
func (s *Service) ProcessWebhook(ctx context.Context, provider string, payload []byte, signature string) (Result, error) {
	ctx, cid := correlation.EnsureCorrelationID(ctx)

	name, ok := domain.ParseProvider(provider)
	if !ok {
		return Result{}, domain.ErrProviderNotFound
	}
	adapter, err := s.providers.Get(string(name))
	if err != nil {
		return Result{}, err
	}

	event, err := adapter.ProcessWebhook(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, domain.ErrSignatureVerification) ||
			errors.Is(err, domain.ErrWebhookUnsupported) ||
			errors.Is(err, domain.ErrInvalidPayload) {
			s.obsMetrics.RecordWebhookEvent(ctx, string(name), "", "rejected")
			return Result{}, fmt.Errorf("%w: %w", ErrWebhookVerification, err)
		}
		return Result{}, err
	}

	log := logger.WithProvider(logger.WithContext(ctx, s.log), string(name), event.ID).
		With(zap.String("event_type", event.Type))

	kind := classify(event.Type)
	if kind == kindIgnored {
		s.obsMetrics.RecordWebhookEvent(ctx, string(name), event.Type, outcomeIgnored)
		log.Debug("webhook event ignored")
		return Result{Success: true, Message: "ignored"}, nil
	}

	var details *domain.PaymentDetails
	if kind == kindSuccess && event.PaymentIntentID != "" {
		details, err = adapter.GetPaymentDetails(ctx, event.PaymentIntentID)
		if err != nil {
			log.Warn("payment details lookup failed", zap.Error(err))
			details = nil
		}
	}

	var rec reconciliation
	err = s.locker.Do(ctx, lock.Key("webhook", string(name), referenceKey(event)), s.lockTTL, func(ctx context.Context) error {
		var txErr error
		rec, txErr = s.reconcile(ctx, name, event, kind, details, cid, log)
		return txErr
	})
	if errors.Is(err, lock.ErrHeld) {
		err = ErrConcurrentDelivery
	}
	if err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, string(name), event.Type, outcomeError)
		log.Error("webhook reconciliation failed", zap.Error(err))
		return Result{}, err
	}

	s.obsMetrics.RecordWebhookEvent(ctx, string(name), event.Type, rec.outcome)
	if rec.transactionType != "" {
		s.obsMetrics.RecordFulfillment(ctx, rec.transactionType, rec.outcome)
	}
	log.Info("webhook processed",
		zap.String("outcome", rec.outcome),
		zap.String("transaction_type", rec.transactionType),
	)

	if rec.registrationID != 0 {
		if err := s.eventSvc.SendConfirmation(ctx, rec.registrationID); err != nil {
			log.Warn("registration confirmation email failed",
				zap.String("registration_id", rec.registrationID.String()),
				zap.Error(err),
			)
		}
	}
	if err := slack.Notify(ctx, s.slack, s.slackChannel, rec.alert); err != nil {
		log.Warn("slack alert failed", zap.Error(err), zap.String("alert", string(rec.alert.Kind)))
	}

	return rec.result, nil
}

func referenceKey(event *domain.WebhookEvent) string {
	if event.PaymentIntentID != "" {
		return event.PaymentIntentID
	}
	if event.ObjectID != "" {
		return event.ObjectID
	}
	return event.ID
}

func (s *Service) reconcile(
	ctx context.Context,
	provider domain.Provider,
	event *domain.WebhookEvent,
	kind eventKind,
	details *domain.PaymentDetails,
	correlationID string,
	log *zap.Logger,
) (reconciliation, error) {
	var rec reconciliation
	now := s.clock.Now()

	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	record := &domain.WebhookEventRecord{
		ID:            s.genID.Generate(),
		Provider:      string(provider),
		EventID:       event.ID,
		EventType:     event.Type,
		CorrelationID: correlationID,
		Payload:       datatypes.JSON(payload),
		ReceivedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertWebhookEvent(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			rec.outcome = outcomeDuplicate
			rec.result = Result{Success: true, Message: "duplicate", Duplicate: true}
			return nil
		}

		payment, err := s.lookupPayment(ctx, tx, provider, event)
		if err != nil {
			return err
		}
		if payment == nil {
			rec.outcome = outcomeNotTracked
			rec.result = Result{Success: true, Message: "not tracked"}
			return s.repo.MarkWebhookEventProcessed(ctx, tx, record.ID, rec.outcome, now)
		}

		payment, err = s.repo.LockByID(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}

		switch kind {
		case kindSuccess:
			err = s.settle(ctx, tx, event, payment, details, now, &rec, log)
		case kindFailure:
			err = s.fail(ctx, tx, event, payment, now, &rec)
		}
		if err != nil {
			return err
		}
		return s.repo.MarkWebhookEventProcessed(ctx, tx, record.ID, rec.outcome, now)
	})
	if err != nil {
		return reconciliation{}, err
	}
	return rec, nil
}

// lookupPayment tries the payment id, then the public id, then the provider
// reference.
func (s *Service) lookupPayment(ctx context.Context, tx *gorm.DB, provider domain.Provider, event *domain.WebhookEvent) (*domain.Payment, error) {
	if raw := strings.TrimSpace(event.Metadata[orderdomain.MetadataPaymentID]); raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil && id > 0 {
			payment, err := s.repo.FindByID(ctx, tx, id)
			if err != nil || payment != nil {
				return payment, err
			}
		}
	}
	if publicID := strings.TrimSpace(event.Metadata[orderdomain.MetadataPaymentPublicID]); publicID != "" {
		payment, err := s.repo.FindByPublicID(ctx, tx, publicID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	if event.PaymentIntentID != "" {
		return s.repo.FindByProviderRef(ctx, tx, provider, event.PaymentIntentID)
	}
	return nil, nil
}

func (s *Service) settle(
	ctx context.Context,
	tx *gorm.DB,
	event *domain.WebhookEvent,
	payment *domain.Payment,
	details *domain.PaymentDetails,
	now time.Time,
	rec *reconciliation,
	log *zap.Logger,
) error {
	if payment.Status == domain.PaymentStatusSucceeded {
		rec.outcome = outcomeAlreadySettled
		rec.result = Result{Success: true, Message: "already processed"}
		return nil
	}

	checkout, err := ParseCheckout(mergeMetadata(payment.Metadata, event.Metadata))
	if err != nil {
		return err
	}
	rec.transactionType = checkout.TransactionType()

	settleDetails := domain.SettleDetails{ProcessedAt: now}
	if details != nil {
		settleDetails.FeeAmount = details.Fee
		settleDetails.NetAmount = details.Net
		settleDetails.PaymentMethod = details.PaymentMethod
	}
	if err := s.repo.MarkSucceeded(ctx, tx, payment.ID, settleDetails); err != nil {
		return err
	}
	s.obsMetrics.RecordPaymentSettled(ctx, string(payment.Provider), string(domain.PaymentStatusSucceeded))

	var order *orderdomain.Order
	if payment.OrderID != nil {
		order, err = s.orderSvc.FindByIDTx(ctx, tx, *payment.OrderID)
		if err != nil {
			return err
		}
		if err := s.orderSvc.MarkPaidTx(ctx, tx, order.ID, now); err != nil {
			if !errors.Is(err, orderdomain.ErrInvalidStateTransition) {
				return err
			}
			// money was captured for an order that already left PENDING;
			// keep the payment and leave fulfilment to an operator
			rec.outcome = outcomeOrderNotPaid
			rec.result = Result{Success: true, Message: "order not payable"}
			rec.alert = slack.PaymentAlert{
				Kind:        slack.AlertOrderNotPayable,
				PaymentID:   payment.PublicID,
				OrderNumber: order.OrderNumber,
				OrderStatus: string(order.Status),
			}
			log.Error("payment settled on non-pending order",
				zap.String("order_id", order.ID.String()),
				zap.String("order_status", string(order.Status)),
			)
			return nil
		}
	}

	switch c := checkout.(type) {
	case MembershipCheckout:
		if err := s.applyMembership(ctx, tx, order); err != nil {
			return err
		}
	case EventMemberCheckout:
		regID := c.RegistrationID
		if regID == 0 {
			regID = registrationFromOrder(order)
		}
		if regID == 0 {
			return ErrMissingRegistration
		}
		if _, err := s.eventSvc.MarkPaidTx(ctx, tx, regID); err != nil {
			return err
		}
		rec.registrationID = regID
	case EventGuestCheckout:
		if _, err := s.eventSvc.MarkPaidTx(ctx, tx, c.RegistrationID); err != nil {
			return err
		}
		rec.registrationID = c.RegistrationID
	case LegacyCheckout:
		log.Warn("legacy checkout settled without fulfilment",
			zap.String("payment_id", payment.ID.String()),
		)
	}

	rec.outcome = outcomeSettled
	rec.result = Result{Success: true, Message: "payment settled"}
	return nil
}

func (s *Service) applyMembership(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) error {
	if order == nil || order.UserID == nil {
		return ErrInvalidCheckoutMetadata
	}
	levelID, err := snowflake.ParseString(order.MetadataString(orderdomain.MetadataMembershipLevelID))
	if err != nil || levelID <= 0 {
		return ErrInvalidCheckoutMetadata
	}
	operation := membershipdomain.OperationNew
	if raw := order.MetadataString(orderdomain.MetadataOperationType); raw != "" {
		parsed, ok := membershipdomain.ParseOperation(raw)
		if !ok {
			return ErrInvalidCheckoutMetadata
		}
		operation = parsed
	}

	userID := *order.UserID
	switch operation {
	case membershipdomain.OperationNew:
		_, err = s.membershipSvc.CreateMembershipTx(ctx, tx, membershipdomain.CreateMembershipRequest{
			UserID:  userID,
			LevelID: levelID,
		})
	case membershipdomain.OperationExtend:
		_, err = s.membershipSvc.ExtendMembershipTx(ctx, tx, membershipdomain.ExtendMembershipRequest{
			UserID:  userID,
			LevelID: &levelID,
		})
	default:
		_, err = s.membershipSvc.ChangeMembershipLevelTx(ctx, tx, membershipdomain.ChangeLevelRequest{
			UserID:     userID,
			NewLevelID: levelID,
			Operation:  operation,
		})
	}
	if err != nil {
		return fmt.Errorf("apply membership %s: %w", strings.ToLower(string(operation)), err)
	}
	return nil
}

func registrationFromOrder(order *orderdomain.Order) snowflake.ID {
	if order == nil || order.ReferenceID == nil || order.ReferenceType == nil {
		return 0
	}
	if *order.ReferenceType != orderdomain.ReferenceTypeEventRegistration {
		return 0
	}
	id, err := snowflake.ParseString(*order.ReferenceID)
	if err != nil {
		return 0
	}
	return id
}

func (s *Service) fail(
	ctx context.Context,
	tx *gorm.DB,
	event *domain.WebhookEvent,
	payment *domain.Payment,
	now time.Time,
	rec *reconciliation,
) error {
	if payment.Status == domain.PaymentStatusSucceeded {
		rec.outcome = outcomeStaleFailure
		rec.result = Result{Success: true, Message: "payment already settled"}
		return nil
	}

	reason := strings.TrimSpace(event.FailureReason)
	if reason == "" {
		reason = event.Type
	}
	if err := s.repo.MarkFailed(ctx, tx, payment.ID, reason, now); err != nil {
		return err
	}
	if payment.OrderID != nil {
		if err := s.orderSvc.MarkFailedTx(ctx, tx, *payment.OrderID, now); err != nil {
			return err
		}
	}
	s.obsMetrics.RecordPaymentSettled(ctx, string(payment.Provider), string(domain.PaymentStatusFailed))

	rec.outcome = outcomeFailed
	rec.result = Result{Success: true, Message: "payment failure recorded"}
	rec.alert = slack.PaymentAlert{
		Kind:      slack.AlertPaymentFailed,
		PaymentID: payment.PublicID,
		Amount:    payment.Amount.StringFixed(2),
		Currency:  payment.Currency,
		Reason:    reason,
	}
	return nil
}

// mergeMetadata overlays the provider metadata on what was stored when the
// payment was created. Charge events do not echo intent metadata.
func mergeMetadata(stored datatypes.JSONMap, incoming map[string]string) map[string]string {
	out := make(map[string]string, len(stored)+len(incoming))
	for key, value := range stored {
		if value == nil {
			continue
		}
		out[key] = fmt.Sprint(value)
	}
	for key, value := range incoming {
		if strings.TrimSpace(value) == "" {
			continue
		}
		out[key] = value
	}
	return out
}
