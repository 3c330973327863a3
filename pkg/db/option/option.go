package option

import (
	"fmt"

	"github.com/smallbiznis/memberhub/pkg/db/pagination"
	"gorm.io/gorm"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

func WithOrder(column string, desc bool) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		direction := "ASC"
		if desc {
			direction = "DESC"
		}
		return db.Order(fmt.Sprintf("%s %s", column, direction))
	})
}

func WithWhere(query string, args ...any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

// ApplyPagination fetches one row past the page size so callers can detect HasMore.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		size := p.Size()
		if p.PageToken != "" {
			if cursor, err := pagination.DecodeCursor(p.PageToken); err == nil && cursor.ID != "" {
				db = db.Where("id < ?", cursor.ID)
			}
		}
		return db.Order("id DESC").Limit(size + 1)
	})
}
