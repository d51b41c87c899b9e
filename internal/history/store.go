// Package history caches message history locally with GORM so reopened
// conversations paint before the network round trip.
package history

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"gigsync/internal/models"
)

// Store is a GORM-backed message cache.
type Store struct {
	db *gorm.DB
}

// Open connects a cache with the given driver ("sqlite" or "postgres") and
// DSN, migrating the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history cache: %w", err)
	}
	if err := db.AutoMigrate(&models.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history cache: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveMessages upserts messages by id.
func (s *Store) SaveMessages(msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&msgs).Error
}

// Recent returns up to limit of the newest cached messages for a
// conversation, oldest first.
func (s *Store) Recent(conversationID uint, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// Newest-first fetch, reversed for display order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessage removes one cached message.
func (s *Store) DeleteMessage(messageID uint) error {
	return s.db.Delete(&models.Message{}, messageID).Error
}

// DeleteConversation removes all cached messages for a conversation.
func (s *Store) DeleteConversation(conversationID uint) error {
	return s.db.Where("conversation_id = ?", conversationID).Delete(&models.Message{}).Error
}
