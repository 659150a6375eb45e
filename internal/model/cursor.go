package model

import (
	"time"

	"gorm.io/datatypes"
)

// SyncCursor stores a per-entity watermark as JSON {"ts": "<RFC3339>"}.
type SyncCursor struct {
	Key       string         `json:"key" gorm:"primaryKey;size:100"`
	Value     datatypes.JSON `json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (SyncCursor) TableName() string { return "sync_state" }
