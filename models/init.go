package models

import "gorm.io/gorm"

// Migrate runs the schema migration for all engine entities.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&EmailAccount{},
		&Lead{},
		&Campaign{},
		&CampaignLead{},
		&EmailLog{},
		&WarmupEmail{},
		&InboxSync{},
		&InboxMessage{},
	)
}
