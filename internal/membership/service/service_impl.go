package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/cache"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/membership/domain"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	"github.com/smallbiznis/memberhub/pkg/db"
	"github.com/smallbiznis/memberhub/pkg/db/option"
	"github.com/smallbiznis/memberhub/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultExpireBatch = 500

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Levels     repository.Repository[domain.Level]
	LevelCache cache.MembershipLevelCache `optional:"true"`
	OrderSvc   orderdomain.Service
	Policy     *config.PolicyHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	levels     repository.Repository[domain.Level]
	levelCache cache.MembershipLevelCache
	orderSvc   orderdomain.Service
	policy     *config.PolicyHolder
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	levelCache := p.LevelCache
	if levelCache == nil {
		levelCache = cache.NewMembershipLevelCache()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("membership.service"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		levels:     p.Levels,
		levelCache: levelCache,
		orderSvc:   p.OrderSvc,
		policy:     p.Policy,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateMembership(ctx context.Context, req domain.CreateMembershipRequest) (domain.Membership, error) {
	var out domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.CreateMembershipTx(ctx, tx, req)
		out = created
		return err
	})
	return out, err
}

// CreateMembershipTx opens a first term for the user. The ACTIVE row check
// runs under a row lock; the partial unique index backs it up.
func (s *Service) CreateMembershipTx(ctx context.Context, tx *gorm.DB, req domain.CreateMembershipRequest) (domain.Membership, error) {
	if req.UserID == 0 || req.LevelID == 0 {
		return domain.Membership{}, domain.ErrInvalidID
	}
	level, err := s.getLevel(ctx, tx, req.LevelID)
	if err != nil {
		return domain.Membership{}, err
	}
	if !level.IsActive {
		return domain.Membership{}, domain.ErrLevelInactive
	}

	existing, err := s.repo.LockActiveByUser(ctx, tx, req.UserID)
	if err != nil {
		return domain.Membership{}, err
	}
	if existing != nil {
		return domain.Membership{}, domain.ErrDuplicateActiveMembership
	}

	now := s.clock.Now()
	start := now
	if req.StartDate != nil {
		start = req.StartDate.UTC()
	}
	end := start.Add(level.Duration())
	if req.EndDate != nil {
		end = req.EndDate.UTC()
	}
	if !end.After(start) {
		return domain.Membership{}, domain.ErrInvalidDateRange
	}

	membership := domain.Membership{
		ID:                s.genID.Generate(),
		UserID:            req.UserID,
		MembershipLevelID: level.ID,
		StartDate:         start,
		EndDate:           end,
		Status:            domain.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, tx, &membership); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Membership{}, domain.ErrDuplicateActiveMembership
		}
		return domain.Membership{}, err
	}

	s.obsMetrics.RecordMembershipChange(ctx, string(domain.OperationNew))
	s.log.Info("membership created",
		zap.String("membership_id", membership.ID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("level_id", level.ID.String()),
		zap.Time("end_date", end),
	)
	return membership, nil
}

func (s *Service) ExtendMembership(ctx context.Context, req domain.ExtendMembershipRequest) (domain.Membership, error) {
	var out domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		extended, err := s.ExtendMembershipTx(ctx, tx, req)
		out = extended
		return err
	})
	return out, err
}

// ExtendMembershipTx pushes the end date of the ACTIVE row (or the latest
// EXPIRED one) by one term counted from its current end date.
func (s *Service) ExtendMembershipTx(ctx context.Context, tx *gorm.DB, req domain.ExtendMembershipRequest) (domain.Membership, error) {
	if req.UserID == 0 {
		return domain.Membership{}, domain.ErrInvalidID
	}

	current, err := s.repo.LockActiveByUser(ctx, tx, req.UserID)
	if err != nil {
		return domain.Membership{}, err
	}
	if current == nil {
		current, err = s.repo.FindLatestByUserAndStatus(ctx, tx, req.UserID, domain.StatusExpired)
		if err != nil {
			return domain.Membership{}, err
		}
	}
	if current == nil {
		return domain.Membership{}, domain.ErrNoMembershipToExtend
	}

	levelID := current.MembershipLevelID
	if req.LevelID != nil && *req.LevelID != 0 {
		levelID = *req.LevelID
	}
	level, err := s.getLevel(ctx, tx, levelID)
	if err != nil {
		return domain.Membership{}, err
	}

	now := s.clock.Now()
	newEnd := current.EndDate.Add(level.Duration())
	if err := s.repo.UpdateTerm(ctx, tx, current.ID, level.ID, newEnd, domain.StatusActive, now); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Membership{}, domain.ErrDuplicateActiveMembership
		}
		return domain.Membership{}, err
	}

	s.obsMetrics.RecordMembershipChange(ctx, string(domain.OperationExtend))
	s.log.Info("membership extended",
		zap.String("membership_id", current.ID.String()),
		zap.String("previous_status", string(current.Status)),
		zap.Time("previous_end_date", current.EndDate),
		zap.Time("end_date", newEnd),
	)

	current.MembershipLevelID = level.ID
	current.EndDate = newEnd
	current.Status = domain.StatusActive
	current.UpdatedAt = now
	return *current, nil
}

func (s *Service) ChangeMembershipLevel(ctx context.Context, req domain.ChangeLevelRequest) (domain.Membership, error) {
	var out domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changed, err := s.ChangeMembershipLevelTx(ctx, tx, req)
		out = changed
		return err
	})
	return out, err
}

// ChangeMembershipLevelTx stops the ACTIVE row and opens a fresh term at the
// new level starting now.
func (s *Service) ChangeMembershipLevelTx(ctx context.Context, tx *gorm.DB, req domain.ChangeLevelRequest) (domain.Membership, error) {
	if req.UserID == 0 || req.NewLevelID == 0 {
		return domain.Membership{}, domain.ErrInvalidID
	}
	if req.Operation != domain.OperationUpgrade && req.Operation != domain.OperationDowngrade {
		return domain.Membership{}, domain.ErrInvalidOperation
	}

	current, err := s.repo.LockActiveByUser(ctx, tx, req.UserID)
	if err != nil {
		return domain.Membership{}, err
	}
	if current == nil {
		return domain.Membership{}, domain.ErrNotFound
	}

	currentLevel, err := s.getLevel(ctx, tx, current.MembershipLevelID)
	if err != nil {
		return domain.Membership{}, err
	}
	newLevel, err := s.getLevel(ctx, tx, req.NewLevelID)
	if err != nil {
		return domain.Membership{}, err
	}
	if !newLevel.IsActive {
		return domain.Membership{}, domain.ErrLevelInactive
	}
	if !priorityAllows(req.Operation, currentLevel.Priority, newLevel.Priority) {
		return domain.Membership{}, domain.ErrInvalidLevelTransition
	}

	now := s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, tx, current.ID, domain.StatusStopped, now); err != nil {
		return domain.Membership{}, err
	}

	next := domain.Membership{
		ID:                s.genID.Generate(),
		UserID:            req.UserID,
		MembershipLevelID: newLevel.ID,
		StartDate:         now,
		EndDate:           now.Add(newLevel.Duration()),
		Status:            domain.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, tx, &next); err != nil {
		return domain.Membership{}, err
	}

	s.obsMetrics.RecordMembershipChange(ctx, string(req.Operation))
	s.log.Info("membership level changed",
		zap.String("operation", string(req.Operation)),
		zap.String("stopped_membership_id", current.ID.String()),
		zap.String("membership_id", next.ID.String()),
		zap.String("from_level_id", currentLevel.ID.String()),
		zap.String("to_level_id", newLevel.ID.String()),
	)
	return next, nil
}

func priorityAllows(op domain.Operation, current, next int) bool {
	switch op {
	case domain.OperationUpgrade:
		return next > current
	case domain.OperationDowngrade:
		return next < current
	}
	return false
}

func (s *Service) CancelMembership(ctx context.Context, id snowflake.ID) (domain.Membership, error) {
	var out domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cancelled, err := s.CancelMembershipTx(ctx, tx, id)
		out = cancelled
		return err
	})
	return out, err
}

func (s *Service) CancelMembershipTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (domain.Membership, error) {
	if id == 0 {
		return domain.Membership{}, domain.ErrInvalidID
	}
	membership, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return domain.Membership{}, err
	}
	if membership == nil {
		return domain.Membership{}, domain.ErrNotFound
	}
	if membership.Status == domain.StatusCancelled {
		return *membership, nil
	}

	now := s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, tx, id, domain.StatusCancelled, now); err != nil {
		return domain.Membership{}, err
	}
	s.obsMetrics.RecordMembershipChange(ctx, "CANCEL")

	membership.Status = domain.StatusCancelled
	membership.UpdatedAt = now
	return *membership, nil
}

// DeleteMembership removes the row and then cancels any PENDING order that
// still references it. The order cleanup is best effort.
func (s *Service) DeleteMembership(ctx context.Context, id snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.DeleteMembershipTx(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	if s.orderSvc != nil {
		cancelled, err := s.orderSvc.CancelOrderByReference(ctx, id.String(), orderdomain.ReferenceTypeMembership)
		if err != nil {
			s.log.Warn("cancel orders for deleted membership failed",
				zap.String("membership_id", id.String()),
				zap.Error(err),
			)
		} else if cancelled > 0 {
			s.log.Info("cancelled orders for deleted membership",
				zap.String("membership_id", id.String()),
				zap.Int("count", cancelled),
			)
		}
	}
	return nil
}

func (s *Service) DeleteMembershipTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	deleted, err := s.repo.Delete(ctx, tx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	s.obsMetrics.RecordMembershipChange(ctx, "DELETE")
	return nil
}

// ValidateCheckout applies the rules the webhook will enforce when the
// payment settles, before any money is taken. It returns the membership the
// operation acts on, or nil for NEW.
func (s *Service) ValidateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.Membership, error) {
	if req.UserID == 0 || req.LevelID == 0 {
		return nil, domain.ErrInvalidID
	}
	level, err := s.getLevel(ctx, s.db, req.LevelID)
	if err != nil {
		return nil, err
	}
	if !level.IsActive {
		return nil, domain.ErrLevelInactive
	}

	active, err := s.repo.FindLatestByUserAndStatus(ctx, s.db, req.UserID, domain.StatusActive)
	if err != nil {
		return nil, err
	}

	switch req.Operation {
	case domain.OperationNew:
		if active != nil {
			return nil, domain.ErrDuplicateActiveMembership
		}
		return nil, nil
	case domain.OperationExtend:
		if active != nil {
			return active, nil
		}
		expired, err := s.repo.FindLatestByUserAndStatus(ctx, s.db, req.UserID, domain.StatusExpired)
		if err != nil {
			return nil, err
		}
		if expired == nil {
			return nil, domain.ErrNoMembershipToExtend
		}
		return expired, nil
	case domain.OperationUpgrade, domain.OperationDowngrade:
		if active == nil {
			return nil, domain.ErrNoActiveMembership
		}
		currentLevel, err := s.getLevel(ctx, s.db, active.MembershipLevelID)
		if err != nil {
			return nil, err
		}
		if !priorityAllows(req.Operation, currentLevel.Priority, level.Priority) {
			return nil, domain.ErrInvalidLevelTransition
		}
		return active, nil
	}
	return nil, domain.ErrInvalidOperation
}

func (s *Service) GetActiveMembership(ctx context.Context, userID snowflake.ID) (domain.Membership, error) {
	if userID == 0 {
		return domain.Membership{}, domain.ErrInvalidID
	}
	membership, err := s.repo.FindLatestByUserAndStatus(ctx, s.db, userID, domain.StatusActive)
	if err != nil {
		return domain.Membership{}, err
	}
	if membership == nil {
		return domain.Membership{}, domain.ErrNotFound
	}
	return *membership, nil
}

func (s *Service) ListMemberships(ctx context.Context, userID snowflake.ID) ([]domain.Membership, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidID
	}
	items, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Membership{}
	}
	return items, nil
}

// ExpireMemberships marks ACTIVE rows whose end date (plus the configured
// grace period) has passed as EXPIRED.
func (s *Service) ExpireMemberships(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultExpireBatch
	}
	cutoff := now.Add(-time.Duration(s.policy.Get().MembershipGraceDays) * 24 * time.Hour)

	total := 0
	for {
		affected, err := s.repo.ExpireEnded(ctx, s.db, cutoff, limit)
		if err != nil {
			return total, err
		}
		total += int(affected)
		if affected < int64(limit) {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	if total > 0 {
		s.obsMetrics.RecordMembershipChange(ctx, "EXPIRE")
		s.log.Info("expired memberships", zap.Int("count", total), zap.Time("cutoff", cutoff))
	}
	return total, nil
}

func (s *Service) CreateLevel(ctx context.Context, req domain.CreateLevelRequest) (domain.Level, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Level{}, domain.ErrInvalidLevel
	}
	if req.Price.IsNegative() || req.DurationDays <= 0 {
		return domain.Level{}, domain.ErrInvalidLevel
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = strings.ToUpper(s.policy.Get().DefaultCurrency)
	}

	now := s.clock.Now()
	level := domain.Level{
		ID:           s.genID.Generate(),
		Name:         name,
		Price:        req.Price,
		Currency:     currency,
		Priority:     req.Priority,
		DurationDays: req.DurationDays,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.levels.Create(ctx, &level); err != nil {
		return domain.Level{}, err
	}
	s.levelCache.Invalidate()
	return level, nil
}

func (s *Service) ListLevels(ctx context.Context, activeOnly bool) ([]domain.Level, error) {
	if cached, ok := s.levelCache.GetLevels(activeOnly); ok {
		return cached, nil
	}

	query := &domain.Level{}
	if activeOnly {
		query.IsActive = true
	}
	items, err := s.levels.Find(ctx, query, option.WithOrder("priority", false))
	if err != nil {
		return nil, err
	}

	levels := make([]domain.Level, 0, len(items))
	for _, item := range items {
		levels = append(levels, *item)
		s.levelCache.SetLevel(*item)
	}
	s.levelCache.SetLevels(activeOnly, levels)
	return levels, nil
}

func (s *Service) GetLevel(ctx context.Context, id snowflake.ID) (domain.Level, error) {
	return s.getLevel(ctx, s.db, id)
}

func (s *Service) getLevel(ctx context.Context, tx *gorm.DB, id snowflake.ID) (domain.Level, error) {
	if id == 0 {
		return domain.Level{}, domain.ErrInvalidID
	}
	if level, ok := s.levelCache.GetLevel(id); ok {
		return level, nil
	}

	level, err := s.levels.WithTrx(tx).FindByID(ctx, id)
	if err != nil {
		return domain.Level{}, err
	}
	if level == nil {
		return domain.Level{}, domain.ErrLevelNotFound
	}
	s.levelCache.SetLevel(*level)
	return *level, nil
}
