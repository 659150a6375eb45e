package model

import "time"

type InboxStatus string

const (
	InboxPending InboxStatus = "PENDING"
	InboxDone    InboxStatus = "DONE"
	InboxFailed  InboxStatus = "FAILED"
)

// InboxEvent records one logical inbound event. IdempotencyKey is unique,
// so redeliveries resolve to the same row.
type InboxEvent struct {
	ID             int64       `json:"id" gorm:"primaryKey"`
	Source         string      `json:"source" gorm:"size:100"`
	EventName      string      `json:"event_name" gorm:"size:200;index"`
	IdempotencyKey string      `json:"idempotency_key" gorm:"size:200;uniqueIndex;not null"`
	Payload        string      `json:"payload" gorm:"type:text"`
	Status         InboxStatus `json:"status" gorm:"size:16;index;default:PENDING"`
	ErrorMessage   string      `json:"error_message" gorm:"type:text"`
	ProcessedAt    *time.Time  `json:"processed_at"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (InboxEvent) TableName() string { return "event_inbox" }
