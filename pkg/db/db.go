package db

import (
	"context"
	"time"

	"github.com/smallbiznis/memberhub/internal/config"
	obslogger "github.com/smallbiznis/memberhub/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// New opens the primary database and wires tracing plus pool metrics.
func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Config)
	if err != nil {
		return nil, err
	}

	gormCfg := obslogger.DefaultGormLoggerConfig()
	gormCfg.SlowThreshold = p.Config.DBSlowQuery
	gormLogger := obslogger.NewGormLogger(gormCfg)
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(p.Config.DBName))); err != nil {
		return nil, err
	}

	if p.Config.DBType == "postgres" || p.Config.DBType == "" {
		if err := conn.Use(gormprom.New(gormprom.Config{
			DBName:          p.Config.DBName,
			RefreshInterval: 15,
			StartServer:     false,
		})); err != nil {
			p.Log.Warn("gorm prometheus plugin disabled", zap.Error(err))
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if p.Config.DBMaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(p.Config.DBMaxIdleConn)
	}
	if p.Config.DBMaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(p.Config.DBMaxOpenConn)
	}
	if p.Config.DBConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(p.Config.DBConnMaxLifetime) * time.Second)
	}
	if p.Config.DBConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(p.Config.DBConnMaxIdleTime) * time.Second)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		OnStop: func(context.Context) error {
			return sqlDB.Close()
		},
	})

	p.Log.Info("database connected",
		zap.String("type", p.Config.DBType),
		zap.String("name", p.Config.DBName),
	)
	return conn, nil
}
