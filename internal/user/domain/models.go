// Package domain holds the read-only view of accounts owned by the upstream
// identity service.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User represents an account as seen by this service.
type User struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Email     string       `gorm:"type:text;not null" json:"email"`
	Name      string       `gorm:"type:text;not null;default:''" json:"name"`
	Role      string       `gorm:"type:text;not null;default:'member'" json:"role"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
}

var ErrNotFound = errors.New("user_not_found")
