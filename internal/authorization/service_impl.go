package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrder           = "order"
	ObjectMembership      = "membership"
	ObjectMembershipLevel = "membership_level"
	ObjectEvent           = "event"
	ObjectRegistration    = "registration"
)

const (
	ActionOrderCreate = "order.create"
	ActionOrderRefund = "order.refund"
	ActionOrderList   = "order.list"

	ActionMembershipCreate      = "membership.create"
	ActionMembershipExtend      = "membership.extend"
	ActionMembershipChangeLevel = "membership.change_level"
	ActionMembershipCancel      = "membership.cancel"
	ActionMembershipDelete      = "membership.delete"
	ActionMembershipExpire      = "membership.expire"

	ActionMembershipLevelCreate = "membership_level.create"

	ActionEventCreate   = "event.create"
	ActionEventAddPrice = "event.add_price"

	ActionRegistrationList     = "registration.list"
	ActionRegistrationAttended = "registration.attended"
	ActionRegistrationCancel   = "registration.cancel"

	ActionOrderExpire = "order.expire"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Users    userdomain.Repository
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	users    userdomain.Repository
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		users:    p.Users,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor)
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "user:") {
		userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
		if err != nil || userID == 0 {
			return "", "", ErrInvalidActor
		}
		user, err := s.users.FindByID(ctx, s.db, userID)
		if err != nil {
			return "", "", err
		}
		if user == nil || strings.TrimSpace(user.Role) == "" {
			return "", "", ErrForbidden
		}
		return fmt.Sprintf("user:%s", userID), fmt.Sprintf("role:%s", strings.ToLower(user.Role)), nil
	}
	return "", "", ErrInvalidActor
}

// ensureGrouping keeps exactly one role link per subject so a role change in
// the users table takes effect on the next request.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Admin permissions
		{"role:admin", ObjectOrder, ActionOrderCreate},
		{"role:admin", ObjectOrder, ActionOrderRefund},
		{"role:admin", ObjectOrder, ActionOrderList},
		{"role:admin", ObjectMembership, ActionMembershipCreate},
		{"role:admin", ObjectMembership, ActionMembershipExtend},
		{"role:admin", ObjectMembership, ActionMembershipChangeLevel},
		{"role:admin", ObjectMembership, ActionMembershipCancel},
		{"role:admin", ObjectMembership, ActionMembershipDelete},
		{"role:admin", ObjectMembershipLevel, ActionMembershipLevelCreate},
		{"role:admin", ObjectEvent, ActionEventCreate},
		{"role:admin", ObjectEvent, ActionEventAddPrice},
		{"role:admin", ObjectRegistration, ActionRegistrationList},
		{"role:admin", ObjectRegistration, ActionRegistrationAttended},
		{"role:admin", ObjectRegistration, ActionRegistrationCancel},

		// System permissions (scheduler and CLI)
		{"role:system", ObjectOrder, ActionOrderExpire},
		{"role:system", ObjectMembership, ActionMembershipExpire},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
