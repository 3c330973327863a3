package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	"gorm.io/gorm"
)

const (
	defaultAdminEmail = "admin@memberhub.local"
	defaultAdminName  = "MemberHub Admin"
)

// Options controls what the bootstrap seeder creates.
type Options struct {
	AdminEmail string
	AdminName  string
	Currency   string
	// SkipLevels leaves the level catalog untouched.
	SkipLevels bool
}

// Result reports what was created. Rows that already existed are not counted.
type Result struct {
	Admin         userdomain.User
	AdminCreated  bool
	LevelsCreated int
}

type levelSeed struct {
	name         string
	price        string
	priority     int
	durationDays int
}

var defaultLevels = []levelSeed{
	{name: "Basic", price: "100.00", priority: 1, durationDays: 365},
	{name: "Silver", price: "300.00", priority: 2, durationDays: 365},
	{name: "Gold", price: "600.00", priority: 3, durationDays: 365},
}

// EnsureDefaults seeds the bootstrap admin account and the default membership
// level catalog. It is safe to run repeatedly.
func EnsureDefaults(ctx context.Context, db *gorm.DB, node *snowflake.Node, opts Options) (Result, error) {
	if db == nil {
		return Result{}, errors.New("seed database handle is required")
	}
	if node == nil {
		return Result{}, errors.New("seed id generator is required")
	}

	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	if email == "" {
		email = defaultAdminEmail
	}
	name := strings.TrimSpace(opts.AdminName)
	if name == "" {
		name = defaultAdminName
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" && !opts.SkipLevels {
		return Result{}, errors.New("seed currency is required")
	}

	var result Result
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		admin, created, err := ensureAdminTx(ctx, tx, node, email, name)
		if err != nil {
			return err
		}
		result.Admin = admin
		result.AdminCreated = created

		if opts.SkipLevels {
			return nil
		}
		n, err := ensureLevelsTx(ctx, tx, node, currency)
		if err != nil {
			return err
		}
		result.LevelsCreated = n
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func ensureAdminTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, email, name string) (userdomain.User, bool, error) {
	var user userdomain.User
	err := tx.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err == nil {
		if user.Role == userdomain.RoleAdmin {
			return user, false, nil
		}
		if err := tx.WithContext(ctx).
			Model(&userdomain.User{}).
			Where("id = ?", user.ID).
			Update("role", userdomain.RoleAdmin).Error; err != nil {
			return user, false, err
		}
		user.Role = userdomain.RoleAdmin
		return user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return user, false, err
	}

	user = userdomain.User{
		ID:        node.Generate(),
		Email:     email,
		Name:      name,
		Role:      userdomain.RoleAdmin,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return user, false, err
	}
	return user, true, nil
}

// ensureLevelsTx only seeds an empty catalog; an operator-managed catalog is
// never extended.
func ensureLevelsTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, currency string) (int, error) {
	var count int64
	if err := tx.WithContext(ctx).Model(&membershipdomain.Level{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	for _, seed := range defaultLevels {
		level := membershipdomain.Level{
			ID:           node.Generate(),
			Name:         seed.name,
			Price:        decimal.RequireFromString(seed.price),
			Currency:     currency,
			Priority:     seed.priority,
			DurationDays: seed.durationDays,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.WithContext(ctx).Create(&level).Error; err != nil {
			return 0, err
		}
	}
	return len(defaultLevels), nil
}
