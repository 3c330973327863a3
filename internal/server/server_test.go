package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/memberhub/internal/authorization"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	eventdomain "github.com/smallbiznis/memberhub/internal/event/domain"
	eventrepo "github.com/smallbiznis/memberhub/internal/event/repository"
	eventservice "github.com/smallbiznis/memberhub/internal/event/service"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/memberhub/internal/membership/repository"
	membershipservice "github.com/smallbiznis/memberhub/internal/membership/service"
	"github.com/smallbiznis/memberhub/internal/observability"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	orderrepo "github.com/smallbiznis/memberhub/internal/order/repository"
	orderservice "github.com/smallbiznis/memberhub/internal/order/service"
	"github.com/smallbiznis/memberhub/internal/payment/adapters"
	"github.com/smallbiznis/memberhub/internal/payment/adapters/admin"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/memberhub/internal/payment/repository"
	"github.com/smallbiznis/memberhub/internal/payment/webhook"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"github.com/smallbiznis/memberhub/internal/providers/pdf"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	userrepo "github.com/smallbiznis/memberhub/internal/user/repository"
	"github.com/smallbiznis/memberhub/pkg/repository"
	"github.com/smallbiznis/memberhub/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSignature = "t=1,v1=valid"

	adminUserID  = snowflake.ID(9001)
	memberUserID = snowflake.ID(9002)
	otherUserID  = snowflake.ID(9003)
)

type stubStripe struct{}

func (f *stubStripe) Provider() paymentdomain.Provider { return paymentdomain.ProviderStripe }

func (f *stubStripe) NewProvider(paymentdomain.ProviderConfig) (paymentdomain.PaymentProvider, error) {
	return f, nil
}

func (f *stubStripe) Name() paymentdomain.Provider { return paymentdomain.ProviderStripe }

func (f *stubStripe) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	return &paymentdomain.Intent{
		ClientSecret:    "pi_secret",
		PaymentIntentID: "pi_test_" + req.Metadata[orderdomain.MetadataPaymentID],
		Amount:          req.Amount,
		Currency:        req.Currency,
	}, nil
}

type stubEvent struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	PaymentIntentID string `json:"payment_intent"`
}

func (f *stubStripe) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*paymentdomain.WebhookEvent, error) {
	if signature != testSignature {
		return nil, paymentdomain.ErrSignatureVerification
	}
	var ev stubEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return &paymentdomain.WebhookEvent{
		ID:              ev.ID,
		Type:            ev.Type,
		ObjectID:        ev.PaymentIntentID,
		PaymentIntentID: ev.PaymentIntentID,
		Payload:         payload,
	}, nil
}

func (f *stubStripe) ConfirmPayment(ctx context.Context, id string) (*paymentdomain.PaymentResult, error) {
	return &paymentdomain.PaymentResult{PaymentIntentID: id, Status: paymentdomain.PaymentStatusSucceeded}, nil
}

func (f *stubStripe) RefundPayment(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	return &paymentdomain.RefundResult{RefundID: "re_test", Status: "succeeded"}, nil
}

func (f *stubStripe) GetPaymentDetails(ctx context.Context, id string) (*paymentdomain.PaymentDetails, error) {
	return &paymentdomain.PaymentDetails{Status: paymentdomain.PaymentStatusSucceeded, PaymentMethod: "card"}, nil
}

type recordingMailer struct {
	sent []email.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg email.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type testServer struct {
	db          *gorm.DB
	engine      *gin.Engine
	memberships membershipdomain.Service
	events      eventdomain.Service
	mailer      *recordingMailer
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

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	users := userrepo.Provide()
	mailer := &recordingMailer{}

	for id, role := range map[snowflake.ID]string{
		adminUserID:  userdomain.RoleAdmin,
		memberUserID: userdomain.RoleMember,
		otherUserID:  userdomain.RoleMember,
	} {
		require.NoError(t, db.Create(&userdomain.User{
			ID:        id,
			Email:     id.String() + "@example.com",
			Name:      "User " + id.String(),
			Role:      role,
			CreatedAt: clk.Now(),
		}).Error)
	}

	registry := adapters.NewRegistry(paymentdomain.ProviderConfig{}, &stubStripe{}, admin.NewFactory())
	orders := orderservice.New(orderservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Repo:        orderrepo.Provide(),
		PaymentRepo: paymentrepo.Provide(),
		Providers:   registry,
	})
	memberships := membershipservice.New(membershipservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     membershiprepo.Provide(),
		Levels:   repository.ProvideStore[membershipdomain.Level](db),
		OrderSvc: orders,
	})
	events := eventservice.New(eventservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     eventrepo.Provide(),
		Prices:   repository.ProvideStore[eventdomain.Price](db),
		Users:    users,
		Email:    mailer,
		OrderSvc: orders,
	})
	webhooks := webhook.NewService(webhook.Params{
		DB:            db,
		Log:           log,
		GenID:         node,
		Clock:         clk,
		Repo:          paymentrepo.Provide(),
		Providers:     registry,
		OrderSvc:      orders,
		MembershipSvc: memberships,
		EventSvc:      events,
	})

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{
		DB:       db,
		Log:      log,
		Enforcer: enforcer,
		Users:    users,
	})

	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin:           engine,
		Cfg:           config.Config{AppName: "Memberhub"},
		DB:            db,
		Log:           log,
		AuthzSvc:      authz,
		Users:         users,
		OrderSvc:      orders,
		MembershipSvc: memberships,
		EventSvc:      events,
		WebhookSvc:    webhooks,
		Receipts:      pdf.New(),
	})

	return &testServer{
		db:          db,
		engine:      engine,
		memberships: memberships,
		events:      events,
		mailer:      mailer,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, userID snowflake.ID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set(HeaderUserID, userID.String())
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func (ts *testServer) level(t *testing.T) membershipdomain.Level {
	t.Helper()
	level, err := ts.memberships.CreateLevel(context.Background(), membershipdomain.CreateLevelRequest{
		Name:         "Gold",
		Price:        decimal.NewFromInt(500),
		Currency:     "HKD",
		Priority:     1,
		DurationDays: 30,
	})
	require.NoError(t, err)
	return level
}

func (ts *testServer) publishedEvent(t *testing.T, title string, publicPrice *decimal.Decimal) *eventdomain.Event {
	t.Helper()
	ctx := context.Background()
	event, err := ts.events.CreateEvent(ctx, eventdomain.CreateEventRequest{
		Title:    title,
		Status:   eventdomain.EventStatusPublished,
		IsPublic: true,
		Currency: "HKD",
		StartsAt: time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	if publicPrice != nil {
		_, err = ts.events.AddPrice(ctx, eventdomain.AddPriceRequest{EventID: event.ID, Price: *publicPrice})
		require.NoError(t, err)
	}
	return event
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterGinUsesReleaseModeInProduction(t *testing.T) {
	defer gin.SetMode(gin.TestMode)

	registerGin(config.Config{Environment: "production"}, observability.Config{}, nil)
	assert.Equal(t, gin.ReleaseMode, gin.Mode())
}

func TestCorrelationHeader(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(correlation.Header, "gw-42")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	assert.Equal(t, "gw-42", rec.Header().Get(correlation.Header))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(correlation.Header, "bad value")
	rec = httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	assert.Len(t, rec.Header().Get(correlation.Header), 26)
}

func TestIdentityRejectsMalformedHeader(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/memberships/me", nil)
	req.Header.Set(HeaderUserID, "not-a-number")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestCreateOrderRequiresUser(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/orders", 0, gin.H{"type": "MEMBERSHIP"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMembershipCheckoutSettledByWebhook(t *testing.T) {
	ts := newTestServer(t)
	level := ts.level(t)

	rec := ts.do(t, http.MethodPost, "/api/orders", memberUserID, gin.H{
		"type":                "MEMBERSHIP",
		"membership_level_id": level.ID.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "pi_secret", data["client_secret"])

	var payment paymentdomain.Payment
	require.NoError(t, ts.db.Take(&payment).Error)
	require.NotNil(t, payment.ProviderRef)

	event, err := json.Marshal(stubEvent{
		ID:              "evt_membership_1",
		Type:            paymentdomain.EventPaymentIntentSucceeded,
		PaymentIntentID: *payment.ProviderRef,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(event))
	req.Header.Set("Stripe-Signature", testSignature)
	webhookRec := httptest.NewRecorder()
	ts.engine.ServeHTTP(webhookRec, req)
	require.Equal(t, http.StatusOK, webhookRec.Code, webhookRec.Body.String())

	var result webhook.Result
	require.NoError(t, json.Unmarshal(webhookRec.Body.Bytes(), &result))
	assert.True(t, result.Success)

	rec = ts.do(t, http.MethodGet, "/api/memberships/me", memberUserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeData(t, rec)
	membership, ok := view["membership"].(map[string]any)
	require.True(t, ok, "expected an active membership, got %v", view)
	assert.Equal(t, string(membershipdomain.StatusActive), membership["status"])
}

func TestMembershipCheckoutRejectsUnfulfillableOperations(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	gold := ts.level(t)
	platinum, err := ts.memberships.CreateLevel(ctx, membershipdomain.CreateLevelRequest{
		Name:         "Platinum",
		Price:        decimal.NewFromInt(900),
		Currency:     "HKD",
		Priority:     2,
		DurationDays: 30,
	})
	require.NoError(t, err)

	checkout := func(levelID snowflake.ID, operation string) *httptest.ResponseRecorder {
		body := gin.H{"type": "MEMBERSHIP", "membership_level_id": levelID.String()}
		if operation != "" {
			body["operation_type"] = operation
		}
		return ts.do(t, http.MethodPost, "/api/orders", memberUserID, body)
	}
	rejected := func(rec *httptest.ResponseRecorder, code string) {
		t.Helper()
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		payload := decodeError(t, rec)
		require.Len(t, payload.Errors, 1)
		assert.Equal(t, code, payload.Errors[0].Code)
	}

	rejected(checkout(gold.ID, "EXTEND"), membershipdomain.ErrNoMembershipToExtend.Error())
	rejected(checkout(platinum.ID, "UPGRADE"), membershipdomain.ErrNoActiveMembership.Error())

	current, err := ts.memberships.CreateMembership(ctx, membershipdomain.CreateMembershipRequest{
		UserID:  memberUserID,
		LevelID: platinum.ID,
	})
	require.NoError(t, err)

	rejected(checkout(gold.ID, ""), membershipdomain.ErrDuplicateActiveMembership.Error())
	rejected(checkout(gold.ID, "UPGRADE"), membershipdomain.ErrInvalidLevelTransition.Error())

	var orders int64
	require.NoError(t, ts.db.Model(&orderdomain.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)

	rec := checkout(gold.ID, "DOWNGRADE")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decodeData(t, rec)["order"].(map[string]any)
	assert.Equal(t, current.ID.String(), order["reference_id"])
	assert.Equal(t, orderdomain.ReferenceTypeMembership, order["reference_type"])
}

func TestDeletingMembershipCancelsItsPendingCheckout(t *testing.T) {
	ts := newTestServer(t)
	level := ts.level(t)
	current, err := ts.memberships.CreateMembership(context.Background(), membershipdomain.CreateMembershipRequest{
		UserID:  memberUserID,
		LevelID: level.ID,
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/orders", memberUserID, gin.H{
		"type":                "MEMBERSHIP",
		"membership_level_id": level.ID.String(),
		"operation_type":      "EXTEND",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	path := "/api/orders/" + decodeData(t, rec)["order"].(map[string]any)["public_id"].(string)

	rec = ts.do(t, http.MethodDelete, "/admin/memberships/"+current.ID.String(), adminUserID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, path, memberUserID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(orderdomain.OrderStatusCancelled), decodeData(t, rec)["order"].(map[string]any)["status"])
}

func TestWebhookRejectsForgedSignature(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{"id":"evt_1"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=forged")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "webhook_rejected", decodeError(t, rec).Type)
}

func TestMembershipMeWithoutMembership(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/memberships/me", memberUserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeData(t, rec)
	assert.Nil(t, view["membership"])
}

func TestAdminRoutesRequirePolicy(t *testing.T) {
	ts := newTestServer(t)
	body := gin.H{"name": "Silver", "price": "300", "currency": "HKD", "priority": 2, "duration_days": 30}

	rec := ts.do(t, http.MethodPost, "/admin/membership-levels", memberUserID, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/admin/membership-levels", adminUserID, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Silver", decodeData(t, rec)["name"])

	rec = ts.do(t, http.MethodGet, "/api/membership-levels", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOrderVisibleOnlyToOwnerOrAdmin(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/orders", memberUserID, gin.H{
		"type":     "OTHER",
		"amount":   "80",
		"currency": "HKD",
		"notes":    "Locker rental",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decodeData(t, rec)["order"].(map[string]any)
	path := "/api/orders/" + order["public_id"].(string)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, memberUserID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, otherUserID, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, adminUserID, nil).Code)

	rec = ts.do(t, http.MethodGet, path+"/receipt.pdf", memberUserID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, path+"/cancel", memberUserID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(orderdomain.OrderStatusCancelled), decodeData(t, rec)["status"])
}

func TestAdminOrderReceipt(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/admin/orders", adminUserID, gin.H{
		"user_id":        memberUserID.String(),
		"type":           "MEMBERSHIP",
		"amount":         "500",
		"currency":       "HKD",
		"payment_method": "cash",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decodeData(t, rec)["order"].(map[string]any)
	assert.Equal(t, string(orderdomain.OrderStatusPaid), order["status"])

	rec = ts.do(t, http.MethodGet, "/api/orders/"+order["public_id"].(string)+"/receipt.pdf", memberUserID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = ts.do(t, http.MethodGet, "/admin/orders?user_id="+memberUserID.String(), adminUserID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	orders := decodeData(t, rec)["orders"].([]any)
	assert.Len(t, orders, 1)
}

func TestGuestRegistrationOpensCheckout(t *testing.T) {
	ts := newTestServer(t)
	price := decimal.NewFromInt(120)
	event := ts.publishedEvent(t, "Spring Mixer", &price)

	rec := ts.do(t, http.MethodPost, "/api/events/"+event.Slug+"/registrations", 0, gin.H{
		"guest": gin.H{"name": "Grace", "email": "grace@example.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "pi_secret", data["client_secret"])
	assert.NotEmpty(t, data["payment_id"])
	registration := data["registration"].(map[string]any)
	assert.Equal(t, string(eventdomain.RegistrationStatusPending), registration["status"])

	rec = ts.do(t, http.MethodPost, "/api/orders/guest-checkout", 0, gin.H{
		"registration_id": registration["id"],
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "pi_secret", decodeData(t, rec)["client_secret"])
}

func TestGuestRegistrationRequiresGuestDetails(t *testing.T) {
	ts := newTestServer(t)
	price := decimal.NewFromInt(120)
	event := ts.publishedEvent(t, "Autumn Mixer", &price)

	rec := ts.do(t, http.MethodPost, "/api/events/"+event.ID.String()+"/registrations", 0, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_guest", decodeError(t, rec).Errors[0].Code)
}

func TestFreeMemberRegistrationIsConfirmed(t *testing.T) {
	ts := newTestServer(t)
	event := ts.publishedEvent(t, "Open House", nil)

	rec := ts.do(t, http.MethodPost, "/api/events/"+event.Slug+"/registrations", memberUserID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	registration := data["registration"].(map[string]any)
	assert.Equal(t, string(eventdomain.RegistrationStatusPaid), registration["status"])
	assert.Nil(t, data["order"])
	require.Len(t, ts.mailer.sent, 1)

	rec = ts.do(t, http.MethodPost, "/api/events/"+event.Slug+"/registrations", memberUserID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already_registered", decodeError(t, rec).Errors[0].Code)
}

func TestDraftEventHiddenFromPublic(t *testing.T) {
	ts := newTestServer(t)
	event, err := ts.events.CreateEvent(context.Background(), eventdomain.CreateEventRequest{
		Title:    "Board Retreat",
		Currency: "HKD",
		StartsAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/events/"+event.Slug, 0, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/events/"+event.Slug, adminUserID, nil).Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"membership not found", membershipdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"event full", eventdomain.ErrEventFull, http.StatusBadRequest, "validation_error"},
		{"unknown transaction type", webhook.ErrUnknownTransactionType, http.StatusBadRequest, "webhook_rejected"},
		{"concurrent delivery", webhook.ErrConcurrentDelivery, http.StatusConflict, "conflict"},
		{"forbidden", authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
		})
	}
}
