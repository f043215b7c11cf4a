package db

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"smartengo-backend/config"
	"smartengo-backend/internal/model"
	"smartengo-backend/internal/util"
)

// Init opens the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open connects with the configured driver and applies the pool settings.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	// TranslateError maps driver constraint errors to gorm.ErrDuplicatedKey
	// and friends, so callers need not parse driver messages.
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == "sqlite" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	util.GetLogger().Info("Running database migrations")
	if err := db.AutoMigrate(
		&model.Toilet{},
		&model.Payment{},
		&model.AccessLog{},
		&model.AdminUser{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	if err := applySessionDDL(db); err != nil {
		return err
	}

	util.GetLogger().Info("Database initialization complete")
	return nil
}

// applySessionDDL adds the constraints AutoMigrate cannot express. The partial
// index keeps at most one open access log per toilet. Both postgres and
// sqlite accept the syntax.
func applySessionDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_access_logs_one_open ON access_logs (toilet_id) WHERE exit_time IS NULL;",
		"CREATE INDEX IF NOT EXISTS idx_access_logs_toilet_entry ON access_logs (toilet_id, entry_time DESC);",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			util.GetLogger().Error("DDL failed", zap.String("query", ddl), zap.Error(err))
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
