package domain

import (
	"database/sql/driver"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type EventStatus string

const (
	EventStatusDraft     EventStatus = "DRAFT"
	EventStatusPublished EventStatus = "PUBLISHED"
	EventStatusCancelled EventStatus = "CANCELLED"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusDraft, EventStatusPublished, EventStatusCancelled:
		return true
	}
	return false
}

type RegistrationStatus string

const (
	RegistrationStatusPending   RegistrationStatus = "PENDING"
	RegistrationStatusPaid      RegistrationStatus = "PAID"
	RegistrationStatusAttended  RegistrationStatus = "ATTENDED"
	RegistrationStatusCancelled RegistrationStatus = "CANCELLED"
)

// Tags is stored as text[] on Postgres and as the array literal elsewhere.
type Tags []string

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return pq.StringArray{}.Value()
	}
	return pq.StringArray(t).Value()
}

func (t *Tags) Scan(src any) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*t = Tags(arr)
	return nil
}

func (Tags) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

type Event struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Slug        string       `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	Title       string       `gorm:"type:text;not null" json:"title"`
	Description string       `gorm:"type:text;not null;default:''" json:"description"`
	Status      EventStatus  `gorm:"type:text;not null" json:"status"`
	IsPublic    bool         `gorm:"not null" json:"is_public"`
	Capacity    *int         `json:"capacity,omitempty"`
	Currency    string       `gorm:"type:text;not null" json:"currency"`
	Tags        Tags         `gorm:"not null" json:"tags"`
	StartsAt    time.Time    `gorm:"not null" json:"starts_at"`
	EndsAt      *time.Time   `json:"ends_at,omitempty"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (Event) TableName() string { return "events" }

// Price is the rule for one membership tier. A nil MembershipLevelID is the
// public tier.
type Price struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	EventID           snowflake.ID    `gorm:"not null;index" json:"event_id"`
	MembershipLevelID *snowflake.ID   `json:"membership_level_id,omitempty"`
	Price             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Quota             *int            `json:"quota,omitempty"`
	IsActive          bool            `gorm:"not null" json:"is_active"`
	CreatedAt         time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

func (Price) TableName() string { return "event_prices" }

type Registration struct {
	ID                snowflake.ID       `gorm:"primaryKey" json:"id"`
	PublicID          string             `gorm:"type:text;not null;uniqueIndex" json:"public_id"`
	EventID           snowflake.ID       `gorm:"not null;index" json:"event_id"`
	UserID            *snowflake.ID      `json:"user_id,omitempty"`
	MembershipLevelID *snowflake.ID      `json:"membership_level_id,omitempty"`
	Price             decimal.Decimal    `gorm:"type:decimal(12,2);not null" json:"price"`
	Status            RegistrationStatus `gorm:"type:text;not null" json:"status"`
	RegisteredAt      time.Time          `gorm:"not null" json:"registered_at"`
	UpdatedAt         time.Time          `gorm:"not null" json:"updated_at"`

	Guest *Guest `gorm:"-" json:"guest,omitempty"`
}

func (Registration) TableName() string { return "event_registrations" }

// IsGuest reports whether the registration belongs to a non-member.
func (r Registration) IsGuest() bool { return r.UserID == nil }

type Guest struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	RegistrationID snowflake.ID `gorm:"not null;uniqueIndex" json:"registration_id"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	Email          string       `gorm:"type:text;not null" json:"email"`
	Phone          *string      `json:"phone,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (Guest) TableName() string { return "guests" }
