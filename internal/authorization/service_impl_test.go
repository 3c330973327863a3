package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	userrepo "github.com/smallbiznis/memberhub/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

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

	if err := db.AutoMigrate(&userdomain.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	return NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
		Users:    userrepo.Provide(),
	})
}

func seedUser(t *testing.T, db *gorm.DB, id snowflake.ID, role string) {
	t.Helper()
	require.NoError(t, db.Create(&userdomain.User{
		ID:        id,
		Email:     id.String() + "@example.com",
		Name:      "Test User",
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}).Error)
}

func TestAuthorizeAdminAllowed(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	seedUser(t, db, 101, userdomain.RoleAdmin)

	err := svc.Authorize(context.Background(), "user:101", ObjectOrder, ActionOrderRefund)
	assert.NoError(t, err)
}

func TestAuthorizeMemberForbidden(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	seedUser(t, db, 102, userdomain.RoleMember)

	err := svc.Authorize(context.Background(), "user:102", ObjectOrder, ActionOrderRefund)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeFollowsRoleChange(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	seedUser(t, db, 103, userdomain.RoleAdmin)

	ctx := context.Background()
	require.NoError(t, svc.Authorize(ctx, "user:103", ObjectEvent, ActionEventCreate))

	require.NoError(t, db.Model(&userdomain.User{}).Where("id = ?", 103).Update("role", userdomain.RoleMember).Error)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:103", ObjectEvent, ActionEventCreate), ErrForbidden)
}

func TestAuthorizeUnknownUser(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)

	err := svc.Authorize(context.Background(), "user:999", ObjectOrder, ActionOrderList)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeSystemActor(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, "system", ObjectOrder, ActionOrderExpire))
	assert.ErrorIs(t, svc.Authorize(ctx, "system", ObjectOrder, ActionOrderRefund), ErrForbidden)
}

func TestAuthorizeRejectsMalformedInput(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, "", ObjectOrder, ActionOrderList), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:abc", ObjectOrder, ActionOrderList), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "api_key:1", ObjectOrder, ActionOrderList), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "system", "", ActionOrderList), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, "system", ObjectOrder, " "), ErrInvalidAction)
}

func TestNewEnforcerIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	_, err := NewEnforcer(db)
	require.NoError(t, err)
	_, err = NewEnforcer(db)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Table("casbin_rule").Where("ptype = ?", "p").Count(&count).Error)
	assert.Equal(t, int64(16), count)
}
