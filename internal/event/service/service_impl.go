package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/event/domain"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	"github.com/smallbiznis/memberhub/internal/providers/email"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	"github.com/smallbiznis/memberhub/pkg/db"
	"github.com/smallbiznis/memberhub/pkg/db/option"
	"github.com/smallbiznis/memberhub/pkg/publicid"
	"github.com/smallbiznis/memberhub/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxSlugAttempts = 50

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Prices     repository.Repository[domain.Price]
	Users      userdomain.Repository
	Email      email.Provider       `optional:"true"`
	OrderSvc   orderdomain.Service  `optional:"true"`
	Policy     *config.PolicyHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	prices     repository.Repository[domain.Price]
	users      userdomain.Repository
	email      email.Provider
	orderSvc   orderdomain.Service
	policy     *config.PolicyHolder
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	mailer := p.Email
	if mailer == nil {
		mailer = &email.NoOpProvider{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("event.service"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		prices:     p.Prices,
		users:      p.Users,
		email:      mailer,
		orderSvc:   p.OrderSvc,
		policy:     p.Policy,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateEvent(ctx context.Context, req domain.CreateEventRequest) (*domain.Event, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}
	status := req.Status
	if status == "" {
		status = domain.EventStatusDraft
	}
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	if req.Capacity != nil && *req.Capacity < 0 {
		return nil, domain.ErrInvalidCapacity
	}
	if req.StartsAt.IsZero() {
		return nil, domain.ErrInvalidSchedule
	}
	if req.EndsAt != nil && req.EndsAt.Before(req.StartsAt) {
		return nil, domain.ErrInvalidSchedule
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = strings.ToUpper(s.policy.Get().DefaultCurrency)
	}
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}

	now := s.clock.Now()
	event := &domain.Event{
		ID:          s.genID.Generate(),
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Status:      status,
		IsPublic:    req.IsPublic,
		Capacity:    req.Capacity,
		Currency:    currency,
		Tags:        normalizeTags(req.Tags),
		StartsAt:    req.StartsAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.EndsAt != nil {
		endsAt := req.EndsAt.UTC()
		event.EndsAt = &endsAt
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		eventSlug, err := s.uniqueSlug(ctx, tx, title)
		if err != nil {
			return err
		}
		event.Slug = eventSlug
		return s.repo.InsertEvent(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("event created",
		zap.String("event_id", event.ID.String()),
		zap.String("slug", event.Slug),
	)
	return event, nil
}

// uniqueSlug appends -2, -3, ... until the slug is free.
func (s *Service) uniqueSlug(ctx context.Context, tx *gorm.DB, title string) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "event"
	}
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		exists, err := s.repo.SlugExists(ctx, tx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("no free slug for %q", base)
}

func normalizeTags(tags []string) domain.Tags {
	out := make(domain.Tags, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func (s *Service) GetEvent(ctx context.Context, idOrSlug string) (domain.EventDetail, error) {
	key := strings.TrimSpace(idOrSlug)
	if key == "" {
		return domain.EventDetail{}, domain.ErrInvalidID
	}

	var (
		event *domain.Event
		err   error
	)
	if id, parseErr := snowflake.ParseString(key); parseErr == nil && id > 0 {
		event, err = s.repo.FindEventByID(ctx, s.db, id)
	}
	if err == nil && event == nil {
		event, err = s.repo.FindEventBySlug(ctx, s.db, key)
	}
	if err != nil {
		return domain.EventDetail{}, err
	}
	if event == nil {
		return domain.EventDetail{}, domain.ErrEventNotFound
	}

	prices, err := s.prices.Find(ctx, &domain.Price{EventID: event.ID}, option.WithOrder("created_at", false))
	if err != nil {
		return domain.EventDetail{}, err
	}
	return domain.EventDetail{Event: event, Prices: prices}, nil
}

func (s *Service) AddPrice(ctx context.Context, req domain.AddPriceRequest) (*domain.Price, error) {
	if req.EventID == 0 {
		return nil, domain.ErrInvalidID
	}
	if req.Price.IsNegative() {
		return nil, domain.ErrInvalidPrice
	}
	if req.Quota != nil && *req.Quota < 0 {
		return nil, domain.ErrInvalidPrice
	}

	event, err := s.repo.FindEventByID(ctx, s.db, req.EventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}

	existing, err := s.repo.FindPrice(ctx, s.db, req.EventID, req.MembershipLevelID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicatePrice
	}

	now := s.clock.Now()
	price := &domain.Price{
		ID:                s.genID.Generate(),
		EventID:           req.EventID,
		MembershipLevelID: req.MembershipLevelID,
		Price:             req.Price,
		Quota:             req.Quota,
		IsActive:          !req.Inactive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.prices.Create(ctx, price); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicatePrice
		}
		return nil, err
	}
	return price, nil
}

func (s *Service) ValidateRegistration(ctx context.Context, req domain.ValidateRegistrationRequest) (decimal.Decimal, error) {
	return s.ValidateRegistrationTx(ctx, s.db, req)
}

// ValidateRegistrationTx returns the price the caller must pay. Stale PENDING
// or CANCELLED rows of the same member are removed so the new registration
// can take their place.
func (s *Service) ValidateRegistrationTx(ctx context.Context, tx *gorm.DB, req domain.ValidateRegistrationRequest) (decimal.Decimal, error) {
	if req.EventID == 0 {
		return decimal.Zero, domain.ErrInvalidID
	}

	event, err := s.repo.FindEventByID(ctx, tx, req.EventID)
	if err != nil {
		return decimal.Zero, err
	}
	if event == nil {
		return decimal.Zero, domain.ErrEventNotFound
	}
	if !event.IsPublic || event.Status != domain.EventStatusPublished {
		return decimal.Zero, domain.ErrEventNotOpen
	}

	if event.Capacity != nil {
		seats, err := s.repo.CountSeats(ctx, tx, event.ID, req.UserID)
		if err != nil {
			return decimal.Zero, err
		}
		if seats >= int64(*event.Capacity) {
			return decimal.Zero, domain.ErrEventFull
		}
	}

	price := decimal.Zero
	rule, err := s.repo.FindPrice(ctx, tx, event.ID, req.MembershipLevelID)
	if err != nil {
		return decimal.Zero, err
	}
	if rule != nil {
		if !rule.IsActive {
			return decimal.Zero, domain.ErrPriceInactive
		}
		if rule.Quota != nil {
			taken, err := s.repo.CountTierSeats(ctx, tx, event.ID, req.MembershipLevelID, req.UserID)
			if err != nil {
				return decimal.Zero, err
			}
			if taken >= int64(*rule.Quota) {
				return decimal.Zero, domain.ErrQuotaExceeded
			}
		}
		price = rule.Price
	}

	if req.UserID != nil {
		existing, err := s.repo.ListUserRegistrations(ctx, tx, event.ID, *req.UserID)
		if err != nil {
			return decimal.Zero, err
		}
		stale := make([]snowflake.ID, 0, len(existing))
		for _, reg := range existing {
			switch reg.Status {
			case domain.RegistrationStatusPaid, domain.RegistrationStatusAttended:
				return decimal.Zero, domain.ErrAlreadyRegistered
			default:
				stale = append(stale, reg.ID)
			}
		}
		if err := s.releaseStaleRegistrations(ctx, tx, stale); err != nil {
			return decimal.Zero, err
		}
	}

	return price, nil
}

// releaseStaleRegistrations drops superseded registrations together with
// their unpaid orders, so a late payment on an old intent is reported as not
// payable instead of failing on a missing registration.
func (s *Service) releaseStaleRegistrations(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if s.orderSvc != nil {
		for _, id := range ids {
			cancelled, err := s.orderSvc.CancelOrderByReferenceTx(ctx, tx, id.String(), orderdomain.ReferenceTypeEventRegistration)
			if err != nil {
				return fmt.Errorf("cancel orders for superseded registration: %w", err)
			}
			if cancelled > 0 {
				s.log.Info("cancelled orders for superseded registration",
					zap.String("registration_id", id.String()),
					zap.Int("count", cancelled),
				)
			}
		}
	}
	return s.repo.DeleteRegistrations(ctx, tx, ids)
}

func (s *Service) CreateRegistration(ctx context.Context, req domain.CreateRegistrationRequest) (*domain.Registration, error) {
	if req.EventID == 0 {
		return nil, domain.ErrInvalidID
	}
	levelID := req.MembershipLevelID
	var guest *domain.GuestInput
	if req.UserID == nil {
		if req.Guest == nil {
			return nil, domain.ErrInvalidGuest
		}
		g := *req.Guest
		g.Name = strings.TrimSpace(g.Name)
		g.Email = strings.ToLower(strings.TrimSpace(g.Email))
		g.Phone = strings.TrimSpace(g.Phone)
		if g.Name == "" || !strings.Contains(g.Email, "@") {
			return nil, domain.ErrInvalidGuest
		}
		guest = &g
		// guests always pay the public tier
		levelID = nil
	}

	var registration *domain.Registration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := s.repo.LockEvent(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		if event == nil {
			return domain.ErrEventNotFound
		}

		price, err := s.ValidateRegistrationTx(ctx, tx, domain.ValidateRegistrationRequest{
			EventID:           req.EventID,
			UserID:            req.UserID,
			MembershipLevelID: levelID,
		})
		if err != nil {
			return err
		}

		now := s.clock.Now()
		registration = &domain.Registration{
			ID:                s.genID.Generate(),
			PublicID:          publicid.New(publicid.PrefixRegistration),
			EventID:           req.EventID,
			UserID:            req.UserID,
			MembershipLevelID: levelID,
			Price:             price,
			Status:            domain.RegistrationStatusPending,
			RegisteredAt:      now,
			UpdatedAt:         now,
		}
		if err := s.repo.InsertRegistration(ctx, tx, registration); err != nil {
			if db.IsDuplicateKeyErr(err) && isMemberRegistrationConflict(db.ViolatedConstraint(err)) {
				return domain.ErrAlreadyRegistered
			}
			return err
		}

		if guest != nil {
			record := &domain.Guest{
				ID:             s.genID.Generate(),
				RegistrationID: registration.ID,
				Name:           guest.Name,
				Email:          guest.Email,
				CreatedAt:      now,
			}
			if guest.Phone != "" {
				phone := guest.Phone
				record.Phone = &phone
			}
			if err := s.repo.InsertGuest(ctx, tx, record); err != nil {
				return err
			}
			registration.Guest = record
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordRegistration(ctx, string(registration.Status))
	s.log.Info("registration created",
		zap.String("registration_id", registration.ID.String()),
		zap.String("event_id", registration.EventID.String()),
		zap.Bool("guest", registration.IsGuest()),
		zap.String("price", registration.Price.StringFixed(2)),
	)
	return registration, nil
}

func (s *Service) GetRegistration(ctx context.Context, id snowflake.ID) (*domain.Registration, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	registration, err := s.repo.FindRegistrationByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if registration == nil {
		return nil, domain.ErrRegistrationNotFound
	}
	if registration.IsGuest() {
		guest, err := s.repo.FindGuest(ctx, s.db, registration.ID)
		if err != nil {
			return nil, err
		}
		registration.Guest = guest
	}
	return registration, nil
}

func (s *Service) ListRegistrations(ctx context.Context, eventID snowflake.ID) ([]*domain.Registration, error) {
	if eventID == 0 {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListRegistrations(ctx, s.db, eventID)
}

func (s *Service) ProcessEventPayment(ctx context.Context, registrationID snowflake.ID) (*domain.Registration, error) {
	var registration *domain.Registration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		paid, err := s.MarkPaidTx(ctx, tx, registrationID)
		registration = paid
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.SendConfirmation(ctx, registrationID); err != nil {
		s.log.Warn("registration confirmation email failed",
			zap.String("registration_id", registrationID.String()),
			zap.Error(err),
		)
	}
	return registration, nil
}

// MarkPaidTx settles a registration. PAID and ATTENDED rows are returned
// unchanged; PENDING and CANCELLED rows become PAID since the payment has
// already been captured.
func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, registrationID snowflake.ID) (*domain.Registration, error) {
	if registrationID == 0 {
		return nil, domain.ErrInvalidID
	}
	registration, err := s.repo.LockRegistration(ctx, tx, registrationID)
	if err != nil {
		return nil, err
	}
	if registration == nil {
		return nil, domain.ErrRegistrationNotFound
	}

	switch registration.Status {
	case domain.RegistrationStatusPaid, domain.RegistrationStatusAttended:
		return registration, nil
	case domain.RegistrationStatusCancelled:
		s.log.Warn("payment settled a cancelled registration",
			zap.String("registration_id", registration.ID.String()),
		)
	}

	now := s.clock.Now()
	if err := s.repo.UpdateRegistrationStatus(ctx, tx, registration.ID, domain.RegistrationStatusPaid, now); err != nil {
		return nil, err
	}
	registration.Status = domain.RegistrationStatusPaid
	registration.UpdatedAt = now

	s.obsMetrics.RecordRegistration(ctx, string(domain.RegistrationStatusPaid))
	return registration, nil
}

func (s *Service) SendConfirmation(ctx context.Context, registrationID snowflake.ID) error {
	registration, err := s.GetRegistration(ctx, registrationID)
	if err != nil {
		return err
	}
	event, err := s.repo.FindEventByID(ctx, s.db, registration.EventID)
	if err != nil {
		return err
	}
	if event == nil {
		return domain.ErrEventNotFound
	}

	var name, to string
	if registration.Guest != nil {
		name, to = registration.Guest.Name, registration.Guest.Email
	} else if registration.UserID != nil {
		user, err := s.users.FindByID(ctx, s.db, *registration.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrNotFound
		}
		name, to = user.Name, user.Email
	}
	if to == "" {
		return errors.New("registration has no recipient")
	}

	data := email.RegistrationConfirmation{
		Name:       name,
		EventTitle: event.Title,
		StartsAt:   event.StartsAt.Format("2006-01-02 15:04 MST"),
		Reference:  registration.PublicID,
		FromName:   s.policy.Get().ConfirmationFromName,
	}
	if registration.Price.IsPositive() {
		data.AmountPaid = event.Currency + " " + registration.Price.StringFixed(2)
	}
	msg, err := email.RenderRegistrationConfirmation(data)
	if err != nil {
		return err
	}
	msg.To = []string{to}

	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	s.log.Info("registration confirmation sent", zap.String("registration_id", registration.ID.String()))
	return nil
}

func (s *Service) CancelRegistration(ctx context.Context, registrationID snowflake.ID) error {
	if registrationID == 0 {
		return domain.ErrInvalidID
	}
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		registration, err := s.repo.LockRegistration(ctx, tx, registrationID)
		if err != nil {
			return err
		}
		if registration == nil {
			return domain.ErrRegistrationNotFound
		}
		switch registration.Status {
		case domain.RegistrationStatusCancelled:
			return nil
		case domain.RegistrationStatusAttended:
			return domain.ErrInvalidRegistrationState
		}
		changed = true
		return s.repo.UpdateRegistrationStatus(ctx, tx, registration.ID, domain.RegistrationStatusCancelled, s.clock.Now())
	})
	if err != nil || !changed {
		return err
	}

	s.obsMetrics.RecordRegistration(ctx, string(domain.RegistrationStatusCancelled))
	if s.orderSvc != nil {
		if _, err := s.orderSvc.CancelOrderByReference(ctx, registrationID.String(), orderdomain.ReferenceTypeEventRegistration); err != nil {
			s.log.Warn("cancel registration order failed",
				zap.String("registration_id", registrationID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) MarkAttended(ctx context.Context, registrationID snowflake.ID) (*domain.Registration, error) {
	if registrationID == 0 {
		return nil, domain.ErrInvalidID
	}
	var out *domain.Registration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		registration, err := s.repo.LockRegistration(ctx, tx, registrationID)
		if err != nil {
			return err
		}
		if registration == nil {
			return domain.ErrRegistrationNotFound
		}
		out = registration
		switch registration.Status {
		case domain.RegistrationStatusAttended:
			return nil
		case domain.RegistrationStatusPaid:
		default:
			return domain.ErrInvalidRegistrationState
		}
		now := s.clock.Now()
		if err := s.repo.UpdateRegistrationStatus(ctx, tx, registration.ID, domain.RegistrationStatusAttended, now); err != nil {
			return err
		}
		registration.Status = domain.RegistrationStatusAttended
		registration.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// isMemberRegistrationConflict reports whether a unique violation came from
// the one-live-registration-per-member index. Dialects that do not name the
// constraint are assumed to have hit it.
func isMemberRegistrationConflict(constraint string) bool {
	return constraint == "" || constraint == "ux_event_registrations_member"
}
