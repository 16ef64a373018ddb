package models

import "time"

// IndexerCheckpoint marks the last chain slot fully processed for a logical
// stream. One row per stream key; lastProcessedSlot only moves forward.
type IndexerCheckpoint struct {
	Key               string    `gorm:"column:key;type:varchar(64);primary_key" json:"key"`
	LastProcessedSlot uint64    `gorm:"column:last_processed_slot;type:bigint;not null" json:"last_processed_slot"`
	LastSyncTime      time.Time `gorm:"column:last_sync_time" json:"last_sync_time"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (IndexerCheckpoint) TableName() string { return "indexer_checkpoint" }
