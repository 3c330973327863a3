package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
)

type membershipView struct {
	Membership *membershipdomain.Membership `json:"membership"`
	Level      *membershipdomain.Level      `json:"level,omitempty"`
}

// GetMyMembership returns the caller's active membership, or a null
// membership when none is active.
func (s *Server) GetMyMembership(c *gin.Context) {
	userID, _ := userIDFromContext(c)
	ctx := c.Request.Context()

	membership, err := s.membershipSvc.GetActiveMembership(ctx, userID)
	if err != nil {
		if errors.Is(err, membershipdomain.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"data": membershipView{}})
			return
		}
		AbortWithError(c, err)
		return
	}

	view := membershipView{Membership: &membership}
	level, err := s.membershipSvc.GetLevel(ctx, membership.MembershipLevelID)
	switch {
	case err == nil:
		view.Level = &level
	case !errors.Is(err, membershipdomain.ErrLevelNotFound):
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListMembershipLevels(c *gin.Context) {
	activeOnly := true
	if raw := strings.TrimSpace(c.Query("include_inactive")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("include_inactive", "invalid_include_inactive", "invalid boolean"))
			return
		}
		activeOnly = !include
	}

	levels, err := s.membershipSvc.ListLevels(c.Request.Context(), activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": levels})
}

type createMembershipRequest struct {
	UserID    string     `json:"user_id"`
	LevelID   string     `json:"membership_level_id"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

func (s *Server) CreateMembership(c *gin.Context) {
	var req createMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil || userID <= 0 {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	levelID, err := snowflake.ParseString(strings.TrimSpace(req.LevelID))
	if err != nil || levelID <= 0 {
		AbortWithError(c, newValidationError("membership_level_id", "invalid_membership_level", "invalid membership level"))
		return
	}

	membership, err := s.membershipSvc.CreateMembership(c.Request.Context(), membershipdomain.CreateMembershipRequest{
		UserID:    userID,
		LevelID:   levelID,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": membership})
}

type extendMembershipRequest struct {
	LevelID string `json:"membership_level_id"`
}

// ExtendMembership takes the user id in the path; the extension always
// applies to that user's latest membership.
func (s *Server) ExtendMembership(c *gin.Context) {
	userID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req extendMembershipRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	levelID, err := parseOptionalSnowflakeID(req.LevelID)
	if err != nil {
		AbortWithError(c, newValidationError("membership_level_id", "invalid_membership_level", "invalid membership level"))
		return
	}

	membership, err := s.membershipSvc.ExtendMembership(c.Request.Context(), membershipdomain.ExtendMembershipRequest{
		UserID:  userID,
		LevelID: levelID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": membership})
}

type changeLevelRequest struct {
	UserID        string `json:"user_id"`
	NewLevelID    string `json:"new_level_id"`
	OperationType string `json:"operation_type"`
}

func (s *Server) ChangeMembershipLevel(c *gin.Context) {
	var req changeLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil || userID <= 0 {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	levelID, err := snowflake.ParseString(strings.TrimSpace(req.NewLevelID))
	if err != nil || levelID <= 0 {
		AbortWithError(c, newValidationError("new_level_id", "invalid_membership_level", "invalid membership level"))
		return
	}
	operation, ok := membershipdomain.ParseOperation(req.OperationType)
	if !ok {
		AbortWithError(c, newValidationError("operation_type", "invalid_membership_operation", "invalid operation type"))
		return
	}

	membership, err := s.membershipSvc.ChangeMembershipLevel(c.Request.Context(), membershipdomain.ChangeLevelRequest{
		UserID:     userID,
		NewLevelID: levelID,
		Operation:  operation,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": membership})
}

func (s *Server) CancelMembership(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	membership, err := s.membershipSvc.CancelMembership(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": membership})
}

func (s *Server) DeleteMembership(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.membershipSvc.DeleteMembership(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type createLevelRequest struct {
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	Priority     int             `json:"priority"`
	DurationDays int             `json:"duration_days"`
}

func (s *Server) CreateMembershipLevel(c *gin.Context) {
	var req createLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	level, err := s.membershipSvc.CreateLevel(c.Request.Context(), membershipdomain.CreateLevelRequest{
		Name:         req.Name,
		Price:        req.Price,
		Currency:     req.Currency,
		Priority:     req.Priority,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": level})
}
