package webhook_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	eventdomain "github.com/smallbiznis/memberhub/internal/event/domain"
	eventrepo "github.com/smallbiznis/memberhub/internal/event/repository"
	eventservice "github.com/smallbiznis/memberhub/internal/event/service"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/memberhub/internal/membership/repository"
	membershipservice "github.com/smallbiznis/memberhub/internal/membership/service"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	orderrepo "github.com/smallbiznis/memberhub/internal/order/repository"
	orderservice "github.com/smallbiznis/memberhub/internal/order/service"
	"github.com/smallbiznis/memberhub/internal/payment/adapters"
	"github.com/smallbiznis/memberhub/internal/payment/adapters/admin"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/memberhub/internal/payment/repository"
	"github.com/smallbiznis/memberhub/internal/payment/webhook"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	userrepo "github.com/smallbiznis/memberhub/internal/user/repository"
	"github.com/smallbiznis/memberhub/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSignature = "t=1,v1=valid"

type fakeEvent struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	PaymentIntentID string            `json:"payment_intent"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type fakeStripe struct{}

func (f *fakeStripe) Provider() paymentdomain.Provider { return paymentdomain.ProviderStripe }

func (f *fakeStripe) NewProvider(paymentdomain.ProviderConfig) (paymentdomain.PaymentProvider, error) {
	return f, nil
}

func (f *fakeStripe) Name() paymentdomain.Provider { return paymentdomain.ProviderStripe }

func (f *fakeStripe) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	return &paymentdomain.Intent{
		ClientSecret:    "pi_secret",
		PaymentIntentID: "pi_test_" + req.Metadata[orderdomain.MetadataPaymentID],
		Amount:          req.Amount,
		Currency:        req.Currency,
	}, nil
}

func (f *fakeStripe) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*paymentdomain.WebhookEvent, error) {
	if signature != testSignature {
		return nil, paymentdomain.ErrSignatureVerification
	}
	var ev fakeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return &paymentdomain.WebhookEvent{
		ID:              ev.ID,
		Type:            ev.Type,
		ObjectID:        ev.PaymentIntentID,
		PaymentIntentID: ev.PaymentIntentID,
		FailureReason:   ev.FailureReason,
		Metadata:        ev.Metadata,
		Payload:         payload,
	}, nil
}

func (f *fakeStripe) ConfirmPayment(ctx context.Context, id string) (*paymentdomain.PaymentResult, error) {
	return &paymentdomain.PaymentResult{PaymentIntentID: id, Status: paymentdomain.PaymentStatusSucceeded}, nil
}

func (f *fakeStripe) RefundPayment(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	return &paymentdomain.RefundResult{RefundID: "re_test", Status: "succeeded"}, nil
}

func (f *fakeStripe) GetPaymentDetails(ctx context.Context, id string) (*paymentdomain.PaymentDetails, error) {
	return &paymentdomain.PaymentDetails{
		Status:        paymentdomain.PaymentStatusSucceeded,
		Fee:           decimal.NewNullDecimal(decimal.RequireFromString("17.50")),
		Net:           decimal.NewNullDecimal(decimal.RequireFromString("482.50")),
		PaymentMethod: "card",
	}, nil
}

type recordingMailer struct {
	sent []email.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg email.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type recordingSlack struct {
	messages []string
}

func (s *recordingSlack) PostMessage(ctx context.Context, channelID string, message string) error {
	s.messages = append(s.messages, message)
	return nil
}

type harness struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	orders      orderdomain.Service
	memberships membershipdomain.Service
	events      eventdomain.Service
	webhooks    *webhook.Service
	mailer      *recordingMailer
	slack       *recordingSlack
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&userdomain.User{},
		&orderdomain.Order{},
		&orderdomain.OrderNumberSequence{},
		&paymentdomain.Payment{},
		&paymentdomain.WebhookEventRecord{},
		&membershipdomain.Level{},
		&membershipdomain.Membership{},
		&eventdomain.Event{},
		&eventdomain.Price{},
		&eventdomain.Registration{},
		&eventdomain.Guest{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	h := &harness{
		db:     db,
		node:   node,
		clock:  clock.NewFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)),
		mailer: &recordingMailer{},
		slack:  &recordingSlack{},
	}
	log := zap.NewNop()
	registry := adapters.NewRegistry(paymentdomain.ProviderConfig{}, &fakeStripe{}, admin.NewFactory())

	h.orders = orderservice.New(orderservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       h.clock,
		Repo:        orderrepo.Provide(),
		PaymentRepo: paymentrepo.Provide(),
		Providers:   registry,
	})
	h.memberships = membershipservice.New(membershipservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    h.clock,
		Repo:     membershiprepo.Provide(),
		Levels:   repository.ProvideStore[membershipdomain.Level](db),
		OrderSvc: h.orders,
	})
	h.events = eventservice.New(eventservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    h.clock,
		Repo:     eventrepo.Provide(),
		Prices:   repository.ProvideStore[eventdomain.Price](db),
		Users:    userrepo.Provide(),
		Email:    h.mailer,
		OrderSvc: h.orders,
	})
	h.webhooks = webhook.NewService(webhook.Params{
		DB:            db,
		Log:           log,
		GenID:         node,
		Clock:         h.clock,
		Cfg:           config.Config{Slack: config.SlackConfig{Channel: "#payments"}},
		Repo:          paymentrepo.Provide(),
		Providers:     registry,
		OrderSvc:      h.orders,
		MembershipSvc: h.memberships,
		EventSvc:      h.events,
		Slack:         h.slack,
	})
	return h
}

func payload(t *testing.T, ev fakeEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func (h *harness) deliver(t *testing.T, ev fakeEvent) (webhook.Result, error) {
	t.Helper()
	return h.webhooks.ProcessWebhook(context.Background(), "stripe", payload(t, ev), testSignature)
}

func (h *harness) payment(t *testing.T, id snowflake.ID) paymentdomain.Payment {
	t.Helper()
	var payment paymentdomain.Payment
	require.NoError(t, h.db.Where("id = ?", id).Take(&payment).Error)
	return payment
}

func (h *harness) order(t *testing.T, id snowflake.ID) orderdomain.Order {
	t.Helper()
	var order orderdomain.Order
	require.NoError(t, h.db.Where("id = ?", id).Take(&order).Error)
	return order
}

func (h *harness) ledgerCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&paymentdomain.WebhookEventRecord{}).Count(&count).Error)
	return count
}

func (h *harness) membershipOrder(t *testing.T, userID, levelID snowflake.ID, operation string) orderdomain.CreateOrderResponse {
	t.Helper()
	resp, err := h.orders.CreateOrder(context.Background(), orderdomain.CreateOrderRequest{
		UserID:   &userID,
		Type:     orderdomain.OrderTypeMembership,
		Provider: "stripe",
		Amount:   decimal.NewFromInt(500),
		Currency: "HKD",
		Metadata: map[string]string{
			orderdomain.MetadataMembershipLevelID: levelID.String(),
			orderdomain.MetadataOperationType:     operation,
		},
	})
	require.NoError(t, err)
	return resp
}

func (h *harness) level(t *testing.T, name string, priority int) membershipdomain.Level {
	t.Helper()
	level, err := h.memberships.CreateLevel(context.Background(), membershipdomain.CreateLevelRequest{
		Name:         name,
		Price:        decimal.NewFromInt(500),
		Currency:     "HKD",
		Priority:     priority,
		DurationDays: 30,
	})
	require.NoError(t, err)
	return level
}

func intentSucceeded(id string, payment paymentdomain.Payment) fakeEvent {
	return fakeEvent{
		ID:              id,
		Type:            paymentdomain.EventPaymentIntentSucceeded,
		PaymentIntentID: *payment.ProviderRef,
		Metadata: map[string]string{
			orderdomain.MetadataPaymentID: payment.ID.String(),
		},
	}
}

func TestWebhookMembershipExtendAdvancesEndDate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.node.Generate()
	gold := h.level(t, "Gold", 1)

	start := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	_, err := h.memberships.CreateMembership(ctx, membershipdomain.CreateMembershipRequest{
		UserID:    userID,
		LevelID:   gold.ID,
		StartDate: &start,
		EndDate:   &end,
	})
	require.NoError(t, err)

	resp := h.membershipOrder(t, userID, gold.ID, "EXTEND")
	event := intentSucceeded("evt_extend_1", resp.Payment)

	result, err := h.deliver(t, event)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "payment settled", result.Message)

	order := h.order(t, resp.Order.ID)
	assert.Equal(t, orderdomain.OrderStatusPaid, order.Status)
	require.NotNil(t, order.PaidAt)

	payment := h.payment(t, resp.Payment.ID)
	assert.Equal(t, paymentdomain.PaymentStatusSucceeded, payment.Status)
	assert.Equal(t, "card", payment.PaymentMethod)
	require.True(t, payment.FeeAmount.Valid)
	assert.True(t, payment.FeeAmount.Decimal.Equal(decimal.RequireFromString("17.50")))

	active, err := h.memberships.GetActiveMembership(ctx, userID)
	require.NoError(t, err)
	wantEnd := end.Add(30 * 24 * time.Hour)
	assert.True(t, active.EndDate.Equal(wantEnd), "end date %s, want %s", active.EndDate, wantEnd)

	// redelivery of the same event is acknowledged without a second extension
	result, err = h.deliver(t, event)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	// a sibling event for the same intent hits the SUCCEEDED guard
	sibling := fakeEvent{ID: "evt_extend_2", Type: paymentdomain.EventChargeSucceeded, PaymentIntentID: *resp.Payment.ProviderRef}
	result, err = h.deliver(t, sibling)
	require.NoError(t, err)
	assert.Equal(t, "already processed", result.Message)

	active, err = h.memberships.GetActiveMembership(ctx, userID)
	require.NoError(t, err)
	assert.True(t, active.EndDate.Equal(wantEnd))
	assert.Equal(t, int64(2), h.ledgerCount(t))
}

func TestWebhookMembershipNewCreatesMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.node.Generate()
	silver := h.level(t, "Silver", 1)

	resp := h.membershipOrder(t, userID, silver.ID, "")
	_, err := h.deliver(t, intentSucceeded("evt_new_1", resp.Payment))
	require.NoError(t, err)

	active, err := h.memberships.GetActiveMembership(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, silver.ID, active.MembershipLevelID)
	assert.True(t, active.StartDate.Equal(h.clock.Now()))
}

func TestWebhookUntrackedPaymentIsAcknowledged(t *testing.T) {
	h := newHarness(t)

	result, err := h.deliver(t, fakeEvent{
		ID:              "evt_unknown",
		Type:            paymentdomain.EventPaymentIntentSucceeded,
		PaymentIntentID: "pi_elsewhere",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "not tracked", result.Message)

	var payments int64
	require.NoError(t, h.db.Model(&paymentdomain.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(0), payments)

	var record paymentdomain.WebhookEventRecord
	require.NoError(t, h.db.Where("event_id = ?", "evt_unknown").Take(&record).Error)
	assert.Equal(t, "not_tracked", record.Outcome)
	assert.NotNil(t, record.ProcessedAt)
	assert.NotEmpty(t, record.CorrelationID)
}

func TestWebhookRejectsUnknownTransactionType(t *testing.T) {
	h := newHarness(t)
	userID := h.node.Generate()
	gold := h.level(t, "Gold", 1)
	resp := h.membershipOrder(t, userID, gold.ID, "NEW")

	event := intentSucceeded("evt_donation", resp.Payment)
	event.Metadata[orderdomain.MetadataTransactionType] = "donation"

	_, err := h.deliver(t, event)
	assert.ErrorIs(t, err, webhook.ErrUnknownTransactionType)

	assert.Equal(t, paymentdomain.PaymentStatusPending, h.payment(t, resp.Payment.ID).Status)
	assert.Equal(t, orderdomain.OrderStatusPending, h.order(t, resp.Order.ID).Status)
	assert.Equal(t, int64(0), h.ledgerCount(t))
}

func TestWebhookGuestCheckoutWithoutRegistrationFails(t *testing.T) {
	h := newHarness(t)
	userID := h.node.Generate()
	gold := h.level(t, "Gold", 1)
	resp := h.membershipOrder(t, userID, gold.ID, "NEW")

	event := intentSucceeded("evt_guest_missing", resp.Payment)
	event.Metadata[orderdomain.MetadataTransactionType] = orderdomain.TransactionTypeEventGuest

	_, err := h.deliver(t, event)
	assert.ErrorIs(t, err, webhook.ErrMissingRegistration)
	assert.Equal(t, paymentdomain.PaymentStatusPending, h.payment(t, resp.Payment.ID).Status)
}

func TestWebhookGuestCheckoutPaysRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ev, err := h.events.CreateEvent(ctx, eventdomain.CreateEventRequest{
		Title:    "Wine Tasting",
		Status:   eventdomain.EventStatusPublished,
		IsPublic: true,
		Currency: "HKD",
		StartsAt: time.Date(2026, 4, 10, 19, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = h.events.AddPrice(ctx, eventdomain.AddPriceRequest{EventID: ev.ID, Price: decimal.NewFromInt(380)})
	require.NoError(t, err)

	reg, err := h.events.CreateRegistration(ctx, eventdomain.CreateRegistrationRequest{
		EventID: ev.ID,
		Guest:   &eventdomain.GuestInput{Name: "Grace", Email: "grace@example.com"},
	})
	require.NoError(t, err)

	checkout, err := h.orders.CreateGuestCheckout(ctx, orderdomain.GuestCheckoutRequest{
		RegistrationID: reg.ID,
		Provider:       "stripe",
		Amount:         reg.Price,
		Currency:       "HKD",
		Email:          "grace@example.com",
	})
	require.NoError(t, err)

	// checkout sessions echo the stored metadata
	metadata := map[string]string{}
	for key, value := range checkout.Payment.Metadata {
		metadata[key] = value.(string)
	}
	result, err := h.deliver(t, fakeEvent{
		ID:              "evt_cs_1",
		Type:            paymentdomain.EventCheckoutSessionCompleted,
		PaymentIntentID: *checkout.Payment.ProviderRef,
		Metadata:        metadata,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	loaded, err := h.events.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.RegistrationStatusPaid, loaded.Status)
	assert.Equal(t, paymentdomain.PaymentStatusSucceeded, h.payment(t, checkout.Payment.ID).Status)

	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, []string{"grace@example.com"}, h.mailer.sent[0].To)
}

func TestWebhookFailureMarksPaymentAndOrderFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.node.Generate()
	gold := h.level(t, "Gold", 1)
	resp := h.membershipOrder(t, userID, gold.ID, "NEW")

	result, err := h.deliver(t, fakeEvent{
		ID:              "evt_failed",
		Type:            paymentdomain.EventPaymentIntentFailed,
		PaymentIntentID: *resp.Payment.ProviderRef,
		FailureReason:   "card_declined",
	})
	require.NoError(t, err)
	assert.Equal(t, "payment failure recorded", result.Message)

	payment := h.payment(t, resp.Payment.ID)
	assert.Equal(t, paymentdomain.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "card_declined", payment.FailureReason)
	assert.Equal(t, orderdomain.OrderStatusFailed, h.order(t, resp.Order.ID).Status)

	_, err = h.memberships.GetActiveMembership(ctx, userID)
	assert.ErrorIs(t, err, membershipdomain.ErrNotFound)

	require.Len(t, h.slack.messages, 1)
	assert.Contains(t, h.slack.messages[0], "card_declined")
}

func TestWebhookVerificationFailure(t *testing.T) {
	h := newHarness(t)

	_, err := h.webhooks.ProcessWebhook(context.Background(), "stripe", []byte(`{"id":"evt_1"}`), "t=1,v1=forged")
	assert.ErrorIs(t, err, webhook.ErrWebhookVerification)
	assert.ErrorIs(t, err, paymentdomain.ErrSignatureVerification)

	_, err = h.webhooks.ProcessWebhook(context.Background(), "admin", []byte(`{}`), "")
	assert.ErrorIs(t, err, webhook.ErrWebhookVerification)

	_, err = h.webhooks.ProcessWebhook(context.Background(), "paypal", []byte(`{}`), "")
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	h := newHarness(t)

	result, err := h.deliver(t, fakeEvent{ID: "evt_customer", Type: "customer.created"})
	require.NoError(t, err)
	assert.Equal(t, webhook.Result{Success: true, Message: "ignored"}, result)
	assert.Equal(t, int64(0), h.ledgerCount(t))
}

func TestWebhookPaymentForDeletedMembershipIsNotPayable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := h.node.Generate()
	gold := h.level(t, "Gold", 1)

	current, err := h.memberships.CreateMembership(ctx, membershipdomain.CreateMembershipRequest{UserID: userID, LevelID: gold.ID})
	require.NoError(t, err)

	target, err := h.memberships.ValidateCheckout(ctx, membershipdomain.CheckoutRequest{
		UserID:    userID,
		LevelID:   gold.ID,
		Operation: membershipdomain.OperationExtend,
	})
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, current.ID, target.ID)

	resp, err := h.orders.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		UserID:          &userID,
		Type:            orderdomain.OrderTypeMembership,
		Provider:        "stripe",
		Amount:          gold.Price,
		Currency:        gold.Currency,
		ReferenceID:     target.ID.String(),
		ReferenceType:   orderdomain.ReferenceTypeMembership,
		TransactionType: orderdomain.TransactionTypeMembership,
		Metadata: map[string]string{
			orderdomain.MetadataMembershipLevelID: gold.ID.String(),
			orderdomain.MetadataOperationType:     string(membershipdomain.OperationExtend),
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.memberships.DeleteMembership(ctx, current.ID))
	assert.Equal(t, orderdomain.OrderStatusCancelled, h.order(t, resp.Order.ID).Status)

	event := intentSucceeded("evt_deleted_membership", resp.Payment)
	result, err := h.deliver(t, event)
	require.NoError(t, err)
	assert.Equal(t, "order not payable", result.Message)
	assert.Equal(t, paymentdomain.PaymentStatusSucceeded, h.payment(t, resp.Payment.ID).Status)
	assert.Equal(t, orderdomain.OrderStatusCancelled, h.order(t, resp.Order.ID).Status)
	require.Len(t, h.slack.messages, 1)

	result, err = h.deliver(t, event)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	_, err = h.memberships.GetActiveMembership(ctx, userID)
	assert.ErrorIs(t, err, membershipdomain.ErrNotFound)
}

func TestWebhookPaymentForSupersededRegistrationIsNotPayable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	userID := h.node.Generate()
	require.NoError(t, h.db.Create(&userdomain.User{
		ID:        userID,
		Email:     "ada@example.com",
		Name:      "Ada",
		Role:      userdomain.RoleMember,
		CreatedAt: h.clock.Now(),
	}).Error)

	ev, err := h.events.CreateEvent(ctx, eventdomain.CreateEventRequest{
		Title:    "Harbour Cruise",
		Status:   eventdomain.EventStatusPublished,
		IsPublic: true,
		Currency: "HKD",
		StartsAt: time.Date(2026, 4, 12, 18, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = h.events.AddPrice(ctx, eventdomain.AddPriceRequest{EventID: ev.ID, Price: decimal.NewFromInt(250)})
	require.NoError(t, err)

	register := func() (*eventdomain.Registration, orderdomain.CreateOrderResponse) {
		reg, err := h.events.CreateRegistration(ctx, eventdomain.CreateRegistrationRequest{EventID: ev.ID, UserID: &userID})
		require.NoError(t, err)
		resp, err := h.orders.CreateOrder(ctx, orderdomain.CreateOrderRequest{
			UserID:          &userID,
			Type:            orderdomain.OrderTypeEvent,
			Provider:        "stripe",
			Amount:          reg.Price,
			Currency:        "HKD",
			ReferenceID:     reg.ID.String(),
			ReferenceType:   orderdomain.ReferenceTypeEventRegistration,
			TransactionType: orderdomain.TransactionTypeEventMember,
			Metadata: map[string]string{
				orderdomain.MetadataRegistrationID: reg.ID.String(),
			},
		})
		require.NoError(t, err)
		return reg, resp
	}

	_, first := register()
	second, _ := register()

	assert.Equal(t, orderdomain.OrderStatusCancelled, h.order(t, first.Order.ID).Status)
	assert.Equal(t, paymentdomain.PaymentStatusCancelled, h.payment(t, first.Payment.ID).Status)

	event := intentSucceeded("evt_superseded", first.Payment)
	result, err := h.deliver(t, event)
	require.NoError(t, err)
	assert.Equal(t, "order not payable", result.Message)
	assert.Equal(t, paymentdomain.PaymentStatusSucceeded, h.payment(t, first.Payment.ID).Status)

	result, err = h.deliver(t, event)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	loaded, err := h.events.GetRegistration(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, eventdomain.RegistrationStatusPending, loaded.Status)
	assert.Empty(t, h.mailer.sent)
}
