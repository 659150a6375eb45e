package model

import "time"

type QueueStatus string

const (
	QueuePending QueueStatus = "PENDING"
	QueueSending QueueStatus = "SENDING"
	QueueRetry   QueueStatus = "RETRY"
	QueueDone    QueueStatus = "DONE"
	QueueFailed  QueueStatus = "FAILED"
)

func (s QueueStatus) Terminal() bool {
	return s == QueueDone || s == QueueFailed
}

// QueueItem is the durable lifecycle record of one outbound document.
type QueueItem struct {
	ID         int64       `json:"id" gorm:"primaryKey"`
	DocumentID int64       `json:"document_id" gorm:"index;not null"`
	DocType    string      `json:"doc_type" gorm:"size:32"`
	Status     QueueStatus `json:"status" gorm:"size:16;index:idx_queue_status_next"`
	Attempts   int         `json:"attempts" gorm:"default:0"`
	NextRunAt  *time.Time  `json:"next_run_at" gorm:"index:idx_queue_status_next"`
	LastError  string      `json:"last_error" gorm:"type:text"`
	LockedBy   string      `json:"locked_by" gorm:"size:64"`
	TraceID    string      `json:"trace_id" gorm:"size:64;index"`
	CreatedAt  time.Time   `json:"created_at" gorm:"index"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (QueueItem) TableName() string { return "integration_queue" }
