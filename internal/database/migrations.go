package database

import (
	"gorm.io/gorm"

	"github.com/vitalmesh/consentd/internal/models"
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.VerificationRequest{},
	)
}
