package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/memberhub/internal/authorization"
	"github.com/smallbiznis/memberhub/internal/config"
	eventdomain "github.com/smallbiznis/memberhub/internal/event/domain"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	"github.com/smallbiznis/memberhub/internal/observability"
	obsmiddleware "github.com/smallbiznis/memberhub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	obstracing "github.com/smallbiznis/memberhub/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	"github.com/smallbiznis/memberhub/internal/payment/webhook"
	"github.com/smallbiznis/memberhub/internal/providers/pdf"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultHTTPAddr = ":8080"

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Correlation())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	log           *zap.Logger
	authzSvc      authorization.Service
	users         userdomain.Repository
	orderSvc      orderdomain.Service
	membershipSvc membershipdomain.Service
	eventSvc      eventdomain.Service
	webhookSvc    *webhook.Service
	receipts      pdf.Provider
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	Users         userdomain.Repository
	OrderSvc      orderdomain.Service
	MembershipSvc membershipdomain.Service
	EventSvc      eventdomain.Service
	WebhookSvc    *webhook.Service
	Receipts      pdf.Provider
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		users:         p.Users,
		orderSvc:      p.OrderSvc,
		membershipSvc: p.MembershipSvc,
		eventSvc:      p.EventSvc,
		webhookSvc:    p.WebhookSvc,
		receipts:      p.Receipts,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.Identity())

	// -------- Orders --------
	api.POST("/orders", s.RequireUser(), s.CreateOrder)
	api.POST("/orders/guest-checkout", s.GuestCheckout)
	api.GET("/orders/:public_id", s.RequireUser(), s.GetOrder)
	api.POST("/orders/:public_id/cancel", s.RequireUser(), s.CancelOrder)
	api.GET("/orders/:public_id/receipt.pdf", s.RequireUser(), s.GetOrderReceipt)

	// -------- Memberships --------
	api.GET("/memberships/me", s.RequireUser(), s.GetMyMembership)
	api.GET("/membership-levels", s.ListMembershipLevels)

	// -------- Events --------
	// Both routes share the :id segment; GetEvent also resolves slugs.
	api.GET("/events/:id", s.GetEvent)
	api.POST("/events/:id/registrations", s.CreateRegistration)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.Identity(), s.RequireUser())

	// -------- Orders --------
	admin.GET("/orders", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderList), s.ListOrders)
	admin.POST("/orders", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderCreate), s.CreateAdminOrder)
	admin.POST("/orders/:public_id/refund", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderRefund), s.RefundOrder)

	// -------- Memberships --------
	admin.POST("/memberships", s.authorizeAction(authorization.ObjectMembership, authorization.ActionMembershipCreate), s.CreateMembership)
	admin.POST("/memberships/change-level", s.authorizeAction(authorization.ObjectMembership, authorization.ActionMembershipChangeLevel), s.ChangeMembershipLevel)
	admin.POST("/memberships/:id/extend", s.authorizeAction(authorization.ObjectMembership, authorization.ActionMembershipExtend), s.ExtendMembership)
	admin.POST("/memberships/:id/cancel", s.authorizeAction(authorization.ObjectMembership, authorization.ActionMembershipCancel), s.CancelMembership)
	admin.DELETE("/memberships/:id", s.authorizeAction(authorization.ObjectMembership, authorization.ActionMembershipDelete), s.DeleteMembership)
	admin.POST("/membership-levels", s.authorizeAction(authorization.ObjectMembershipLevel, authorization.ActionMembershipLevelCreate), s.CreateMembershipLevel)

	// -------- Events --------
	admin.POST("/events", s.authorizeAction(authorization.ObjectEvent, authorization.ActionEventCreate), s.CreateEvent)
	admin.POST("/events/:id/prices", s.authorizeAction(authorization.ObjectEvent, authorization.ActionEventAddPrice), s.AddEventPrice)
	admin.GET("/events/:id/registrations", s.authorizeAction(authorization.ObjectRegistration, authorization.ActionRegistrationList), s.ListRegistrations)
	admin.POST("/registrations/:id/attended", s.authorizeAction(authorization.ObjectRegistration, authorization.ActionRegistrationAttended), s.MarkAttended)
	admin.POST("/registrations/:id/cancel", s.authorizeAction(authorization.ObjectRegistration, authorization.ActionRegistrationCancel), s.CancelRegistration)
}
