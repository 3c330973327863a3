package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
)

const (
	defaultLevelTTL     = 5 * time.Minute
	defaultLevelListTTL = time.Minute
)

// MembershipLevelCache stores catalogue lookups hit on every checkout and
// webhook settlement.
type MembershipLevelCache interface {
	GetLevel(id snowflake.ID) (membershipdomain.Level, bool)
	SetLevel(level membershipdomain.Level)
	GetLevels(activeOnly bool) ([]membershipdomain.Level, bool)
	SetLevels(activeOnly bool, levels []membershipdomain.Level)
	Invalidate()
}

type membershipLevelCache struct {
	levels  Cache[snowflake.ID, membershipdomain.Level]
	lists   Cache[string, []membershipdomain.Level]
	ttl     time.Duration
	listTTL time.Duration
}

func NewMembershipLevelCache() MembershipLevelCache {
	return &membershipLevelCache{
		levels:  NewTTLCache[snowflake.ID, membershipdomain.Level](),
		lists:   NewTTLCache[string, []membershipdomain.Level](),
		ttl:     defaultLevelTTL,
		listTTL: defaultLevelListTTL,
	}
}

func (c *membershipLevelCache) GetLevel(id snowflake.ID) (membershipdomain.Level, bool) {
	return c.levels.Get(id)
}

func (c *membershipLevelCache) SetLevel(level membershipdomain.Level) {
	if level.ID == 0 {
		return
	}
	c.levels.Set(level.ID, level, c.ttl)
}

func (c *membershipLevelCache) GetLevels(activeOnly bool) ([]membershipdomain.Level, bool) {
	return c.lists.Get(listKey(activeOnly))
}

func (c *membershipLevelCache) SetLevels(activeOnly bool, levels []membershipdomain.Level) {
	copied := make([]membershipdomain.Level, len(levels))
	copy(copied, levels)
	c.lists.Set(listKey(activeOnly), copied, c.listTTL)
}

func (c *membershipLevelCache) Invalidate() {
	c.levels.Purge()
	c.lists.Purge()
}

func listKey(activeOnly bool) string {
	if activeOnly {
		return cacheKey("levels", "active")
	}
	return cacheKey("levels", "all")
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
