package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
	StatusStopped   Status = "STOPPED"
)

// Operation is the membership change requested at checkout.
type Operation string

const (
	OperationNew       Operation = "NEW"
	OperationExtend    Operation = "EXTEND"
	OperationUpgrade   Operation = "UPGRADE"
	OperationDowngrade Operation = "DOWNGRADE"
)

func ParseOperation(value string) (Operation, bool) {
	switch op := Operation(upper(value)); op {
	case OperationNew, OperationExtend, OperationUpgrade, OperationDowngrade:
		return op, true
	}
	return "", false
}

type Level struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"type:text;not null" json:"name"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Currency     string          `gorm:"type:text;not null" json:"currency"`
	Priority     int             `gorm:"not null" json:"priority"`
	DurationDays int             `gorm:"not null" json:"duration_days"`
	IsActive     bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null" json:"updated_at"`
}

func (Level) TableName() string { return "membership_levels" }

// Duration is the length of one membership term at this level.
func (l Level) Duration() time.Duration {
	return time.Duration(l.DurationDays) * 24 * time.Hour
}

type Membership struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID            snowflake.ID `gorm:"not null;index" json:"user_id"`
	MembershipLevelID snowflake.ID `gorm:"not null" json:"membership_level_id"`
	StartDate         time.Time    `gorm:"not null" json:"start_date"`
	EndDate           time.Time    `gorm:"not null" json:"end_date"`
	Status            Status       `gorm:"type:text;not null" json:"status"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

func (Membership) TableName() string { return "memberships" }
