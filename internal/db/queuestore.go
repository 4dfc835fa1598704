/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"time"

	"github.com/friendsincode/bragi_player/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// QueueStore persists the playback queue. All writes are synchronous;
// the in-memory queue in playback/queue is the source of truth for order
// and the table mirrors it row-for-row.
type QueueStore struct {
	database *gorm.DB
	logger   zerolog.Logger
}

// NewQueueStore creates a queue store.
func NewQueueStore(database *gorm.DB, logger zerolog.Logger) *QueueStore {
	return &QueueStore{database: database, logger: logger.With().Str("component", "queuestore").Logger()}
}

// Append inserts a queue entry at the given play order.
func (s *QueueStore) Append(entryID, passageID string, playOrder int) error {
	row := models.QueueEntry{
		ID:         entryID,
		PassageID:  passageID,
		PlayOrder:  playOrder,
		EnqueuedAt: time.Now().UTC(),
	}
	return s.database.Create(&row).Error
}

// Remove deletes the entry if present. Returns true iff this call removed
// a row; deleting an absent entry is not an error.
func (s *QueueStore) Remove(entryID string) (bool, error) {
	res := s.database.Delete(&models.QueueEntry{}, "id = ?", entryID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Reorder rewrites play_order for the surviving entries after a removal.
func (s *QueueStore) Reorder(orders map[string]int) error {
	return s.database.Transaction(func(tx *gorm.DB) error {
		for id, order := range orders {
			if err := tx.Model(&models.QueueEntry{}).Where("id = ?", id).Update("play_order", order).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear removes every queued entry.
func (s *QueueStore) Clear() error {
	return s.database.Where("1 = 1").Delete(&models.QueueEntry{}).Error
}

// LoadAll returns all persisted entries ordered by play_order.
func (s *QueueStore) LoadAll() ([]models.QueueEntry, error) {
	var rows []models.QueueEntry
	err := s.database.Order("play_order ASC").Find(&rows).Error
	return rows, err
}

// RecordHistory appends a play-history row for a finished entry.
func (s *QueueStore) RecordHistory(row *models.PlayHistory) error {
	row.CreatedAt = time.Now().UTC()
	return s.database.Create(row).Error
}
