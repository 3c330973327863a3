package migration

import (
	"github.com/smallbiznis/memberhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs the embedded SQL migrations on Postgres and falls back to
// AutoMigrate for the other dialects.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DBType != "" && cfg.DBType != "postgres" {
		if err := AutoMigrate(conn); err != nil {
			return err
		}
		log.Info("database schema auto-migrated", zap.String("dialect", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("database migrations applied")
	return nil
}
