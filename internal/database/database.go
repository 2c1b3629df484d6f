package database

import (
	"github.com/peerbridge/peerbridge/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Initialize opens the sqlite database and migrates the persistent tables.
// Room and signaling state is deliberately not here: it is ephemeral and
// lives in memory only.
func Initialize(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.ChatMessage{},
		&models.TurnServerUsage{},
		&models.BillingRecord{},
		&models.TurnProvider{},
		&models.PushSubscription{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
