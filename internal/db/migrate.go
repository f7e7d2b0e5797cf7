package db

import (
	"context"
	"fmt"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/settings"
	"gorm.io/gorm"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.RealUser{},
		&models.Persona{},
		&models.Operator{},
		&models.Chat{},
		&models.Message{},
		&models.AssignmentRecord{},
		&models.OperatorActivity{},
		&models.CreditTransaction{},
		&models.PlatformSetting{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedPlatform writes the configured policy into platform_settings without
// overwriting values an administrator already changed.
func SeedPlatform(db *gorm.DB, p config.Platform) error {
	if err := settings.Seed(context.Background(), db, p, false); err != nil {
		return fmt.Errorf("db: seed platform settings: %w", err)
	}
	return nil
}
