package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/event/domain"
	eventrepo "github.com/smallbiznis/memberhub/internal/event/repository"
	eventservice "github.com/smallbiznis/memberhub/internal/event/service"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	userrepo "github.com/smallbiznis/memberhub/internal/user/repository"
	"github.com/smallbiznis/memberhub/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingMailer struct {
	sent []email.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg email.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type recordingOrderService struct {
	orderdomain.Service
	references []string
}

func (r *recordingOrderService) CancelOrderByReference(ctx context.Context, referenceID, referenceType string) (int, error) {
	r.references = append(r.references, referenceType+":"+referenceID)
	return 0, nil
}

func (r *recordingOrderService) CancelOrderByReferenceTx(ctx context.Context, tx *gorm.DB, referenceID, referenceType string) (int, error) {
	r.references = append(r.references, referenceType+":"+referenceID)
	return 0, nil
}

type harness struct {
	db     *gorm.DB
	svc    domain.Service
	node   *snowflake.Node
	clock  *clock.FakeClock
	mailer *recordingMailer
	orders *recordingOrderService
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
		&domain.Event{},
		&domain.Price{},
		&domain.Registration{},
		&domain.Guest{},
		&userdomain.User{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	h := &harness{
		db:     db,
		node:   node,
		clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		mailer: &recordingMailer{},
		orders: &recordingOrderService{},
	}
	h.svc = eventservice.New(eventservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    h.clock,
		Repo:     eventrepo.Provide(),
		Prices:   repository.ProvideStore[domain.Price](db),
		Users:    userrepo.Provide(),
		Email:    h.mailer,
		OrderSvc: h.orders,
	})
	return h
}

func intPtr(v int) *int { return &v }

func (h *harness) publishedEvent(t *testing.T, capacity *int) *domain.Event {
	t.Helper()
	event, err := h.svc.CreateEvent(context.Background(), domain.CreateEventRequest{
		Title:    "Spring Gala",
		Status:   domain.EventStatusPublished,
		IsPublic: true,
		Capacity: capacity,
		Currency: "hkd",
		Tags:     []string{"Social", "social", " gala "},
		StartsAt: time.Date(2026, 4, 1, 19, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return event
}

func (h *harness) member(t *testing.T, name string) snowflake.ID {
	t.Helper()
	user := userdomain.User{
		ID:        h.node.Generate(),
		Email:     name + "@example.com",
		Name:      name,
		Role:      userdomain.RoleMember,
		CreatedAt: h.clock.Now(),
	}
	require.NoError(t, h.db.Create(&user).Error)
	return user.ID
}

func guestRequest(eventID snowflake.ID) domain.CreateRegistrationRequest {
	return domain.CreateRegistrationRequest{
		EventID: eventID,
		Guest:   &domain.GuestInput{Name: "Grace", Email: "Grace@Example.com"},
	}
}

func TestCreateEventBuildsUniqueSlugs(t *testing.T) {
	h := newHarness(t)

	first := h.publishedEvent(t, nil)
	second := h.publishedEvent(t, nil)

	assert.Equal(t, "spring-gala", first.Slug)
	assert.Equal(t, "spring-gala-2", second.Slug)
	assert.Equal(t, "HKD", first.Currency)
	assert.Equal(t, domain.Tags{"social", "gala"}, first.Tags)

	detail, err := h.svc.GetEvent(context.Background(), "spring-gala-2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, detail.Event.ID)
	assert.Equal(t, domain.Tags{"social", "gala"}, detail.Event.Tags)

	detail, err = h.svc.GetEvent(context.Background(), first.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "spring-gala", detail.Event.Slug)

	_, err = h.svc.GetEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestCreateEventValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateEvent(ctx, domain.CreateEventRequest{Title: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidTitle)

	_, err = h.svc.CreateEvent(ctx, domain.CreateEventRequest{Title: "Talk"})
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)

	starts := time.Date(2026, 4, 1, 19, 0, 0, 0, time.UTC)
	ends := starts.Add(-time.Hour)
	_, err = h.svc.CreateEvent(ctx, domain.CreateEventRequest{Title: "Talk", StartsAt: starts, EndsAt: &ends})
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)

	_, err = h.svc.CreateEvent(ctx, domain.CreateEventRequest{Title: "Talk", StartsAt: starts, Status: "OPEN"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestValidateRegistrationWithoutPriceRuleIsFree(t *testing.T) {
	h := newHarness(t)
	event := h.publishedEvent(t, nil)
	userID := h.member(t, "ada")
	levelID := h.node.Generate()

	price, err := h.svc.ValidateRegistration(context.Background(), domain.ValidateRegistrationRequest{
		EventID:           event.ID,
		UserID:            &userID,
		MembershipLevelID: &levelID,
	})
	require.NoError(t, err)
	assert.True(t, price.IsZero())
}

func TestValidateRegistrationUsesTierPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.publishedEvent(t, nil)
	levelID := h.node.Generate()

	_, err := h.svc.AddPrice(ctx, domain.AddPriceRequest{EventID: event.ID, Price: decimal.NewFromInt(300)})
	require.NoError(t, err)
	_, err = h.svc.AddPrice(ctx, domain.AddPriceRequest{EventID: event.ID, MembershipLevelID: &levelID, Price: decimal.NewFromInt(120)})
	require.NoError(t, err)

	memberPrice, err := h.svc.ValidateRegistration(ctx, domain.ValidateRegistrationRequest{EventID: event.ID, MembershipLevelID: &levelID})
	require.NoError(t, err)
	assert.True(t, memberPrice.Equal(decimal.NewFromInt(120)))

	publicPrice, err := h.svc.ValidateRegistration(ctx, domain.ValidateRegistrationRequest{EventID: event.ID})
	require.NoError(t, err)
	assert.True(t, publicPrice.Equal(decimal.NewFromInt(300)))

	_, err = h.svc.AddPrice(ctx, domain.AddPriceRequest{EventID: event.ID, Price: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, domain.ErrDuplicatePrice)

	detail, err := h.svc.GetEvent(ctx, event.Slug)
	require.NoError(t, err)
	assert.Len(t, detail.Prices, 2)
}

func TestValidateRegistrationRejectsClosedEvent(t *testing.T) {
	h := newHarness(t)
	event, err := h.svc.CreateEvent(context.Background(), domain.CreateEventRequest{
		Title:    "Board meeting",
		IsPublic: true,
		StartsAt: time.Date(2026, 4, 1, 19, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusDraft, event.Status)

	_, err = h.svc.ValidateRegistration(context.Background(), domain.ValidateRegistrationRequest{EventID: event.ID})
	assert.ErrorIs(t, err, domain.ErrEventNotOpen)

	_, err = h.svc.ValidateRegistration(context.Background(), domain.ValidateRegistrationRequest{EventID: h.node.Generate()})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestValidateRegistrationEventFull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.publishedEvent(t, intPtr(1))

	_, err := h.svc.CreateRegistration(ctx, guestRequest(event.ID))
	require.NoError(t, err)

	userID := h.member(t, "ada")
	_, err = h.svc.ValidateRegistration(ctx, domain.ValidateRegistrationRequest{EventID: event.ID, UserID: &userID})
	assert.ErrorIs(t, err, domain.ErrEventFull)

	_, err = h.svc.CreateRegistration(ctx, guestRequest(event.ID))
	assert.ErrorIs(t, err, domain.ErrEventFull)
}

func TestValidateRegistrationInactivePriceAndQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.publishedEvent(t, nil)
	goldID := h.node.Generate()
	silverID := h.node.Generate()

	_, err := h.svc.AddPrice(ctx, domain.AddPriceRequest{EventID: event.ID, MembershipLevelID: &goldID, Price: decimal.NewFromInt(50), Inactive: true})
	require.NoError(t, err)
	_, err = h.svc.AddPrice(ctx, domain.AddPriceRequest{EventID: event.ID, MembershipLevelID: &silverID, Price: decimal.NewFromInt(80), Quota: intPtr(1)})
	require.NoError(t, err)

	_, err = h.svc.ValidateRegistration(ctx, domain.ValidateRegistrationRequest{EventID: event.ID, MembershipLevelID: &goldID})
	assert.ErrorIs(t, err, domain.ErrPriceInactive)

	first := h.member(t, "ada")
	second := h.member(t, "bob")
	_, err = h.svc.CreateRegistration(ctx, domain.CreateRegistrationRequest{EventID: event.ID, UserID: &first, MembershipLevelID: &silverID})
	require.NoError(t, err)

	_, err = h.svc.CreateRegistration(ctx, domain.CreateRegistrationRequest{EventID: event.ID, UserID: &second, MembershipLevelID: &silverID})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestCreateRegistrationSupersedesPendingButRejectsPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.publishedEvent(t, intPtr(1))
	userID := h.member(t, "ada")
	req := domain.CreateRegistrationRequest{EventID: event.ID, UserID: &userID}

	first, err := h.svc.CreateRegistration(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationStatusPending, first.Status)

	// the member's own pending seat does not count against capacity
	second, err := h.svc.CreateRegistration(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	regs, err := h.svc.ListRegistrations(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, second.ID, regs[0].ID)
	assert.Equal(t, []string{orderdomain.ReferenceTypeEventRegistration + ":" + first.ID.String()}, h.orders.references)

	_, err = h.svc.ProcessEventPayment(ctx, second.ID)
	require.NoError(t, err)

	_, err = h.svc.CreateRegistration(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestCreateRegistrationGuestRequiresContact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.publishedEvent(t, nil)

	_, err := h.svc.CreateRegistration(ctx, domain.CreateRegistrationRequest{EventID: event.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidGuest)

	_, err = h.svc.CreateRegistration(ctx, domain.CreateRegistrationRequest{
		EventID: event.ID,
		Guest:   &domain.GuestInput{Name: "Grace", Email: "not-an-email"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidGuest)

	reg, err := h.svc.CreateRegistration(ctx, guestRequest(event.ID))
	require.NoError(t, err)
	assert.True(t, reg.IsGuest())
	require.NotNil(t, reg.Guest)
	assert.Equal(t, "grace@example.com", reg.Guest.Email)

	loaded, err := h.svc.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Guest)
	assert.Equal(t, "Grace", loaded.Guest.Name)
}

func TestProcessEventPaymentSendsConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.publishedEvent(t, nil)
	_, err := h.svc.AddPrice(ctx, domain.AddPriceRequest{EventID: event.ID, Price: decimal.NewFromInt(250)})
	require.NoError(t, err)

	reg, err := h.svc.CreateRegistration(ctx, guestRequest(event.ID))
	require.NoError(t, err)

	paid, err := h.svc.ProcessEventPayment(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationStatusPaid, paid.Status)

	require.Len(t, h.mailer.sent, 1)
	msg := h.mailer.sent[0]
	assert.Equal(t, []string{"grace@example.com"}, msg.To)
	assert.Contains(t, msg.Subject, "Spring Gala")
	assert.Contains(t, msg.HTML, "HKD 250.00")

	// settling twice is a no-op
	again, err := h.svc.ProcessEventPayment(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationStatusPaid, again.Status)
}

func TestProcessEventPaymentIgnoresEmailFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.publishedEvent(t, nil)
	userID := h.member(t, "ada")

	reg, err := h.svc.CreateRegistration(ctx, domain.CreateRegistrationRequest{EventID: event.ID, UserID: &userID})
	require.NoError(t, err)

	h.mailer.err = errors.New("smtp down")
	paid, err := h.svc.ProcessEventPayment(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationStatusPaid, paid.Status)

	h.mailer.err = nil
	require.NoError(t, h.svc.SendConfirmation(ctx, reg.ID))
	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, []string{"ada@example.com"}, h.mailer.sent[0].To)
}

func TestMarkAttendedRequiresPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.publishedEvent(t, nil)
	reg, err := h.svc.CreateRegistration(ctx, guestRequest(event.ID))
	require.NoError(t, err)

	_, err = h.svc.MarkAttended(ctx, reg.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidRegistrationState)

	_, err = h.svc.ProcessEventPayment(ctx, reg.ID)
	require.NoError(t, err)

	attended, err := h.svc.MarkAttended(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationStatusAttended, attended.Status)

	assert.ErrorIs(t, h.svc.CancelRegistration(ctx, reg.ID), domain.ErrInvalidRegistrationState)
}

func TestCancelRegistrationCancelsLinkedOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.publishedEvent(t, nil)
	reg, err := h.svc.CreateRegistration(ctx, guestRequest(event.ID))
	require.NoError(t, err)

	require.NoError(t, h.svc.CancelRegistration(ctx, reg.ID))
	require.NoError(t, h.svc.CancelRegistration(ctx, reg.ID))

	loaded, err := h.svc.GetRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationStatusCancelled, loaded.Status)
	assert.Equal(t, []string{orderdomain.ReferenceTypeEventRegistration + ":" + reg.ID.String()}, h.orders.references)

	// payment that lands after cancellation still settles the seat
	paid, err := h.svc.ProcessEventPayment(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationStatusPaid, paid.Status)
}
