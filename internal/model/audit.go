package model

import (
	"time"

	"gorm.io/datatypes"
)

// ErpDocument is an append-only snapshot of one ERP post attempt. Response
// is null for failed attempts.
type ErpDocument struct {
	ID             int64          `json:"id" gorm:"primaryKey"`
	QueueItemID    *int64         `json:"queue_item_id" gorm:"index"`
	DocumentID     int64          `json:"document_id" gorm:"index"`
	DocType        string         `json:"doc_type" gorm:"size:32"`
	ErpObject      string         `json:"erp_object" gorm:"size:16"`
	ExternalDocID  *int64         `json:"external_doc_id"`
	ExternalDocNum *int64         `json:"external_doc_num"`
	Payload        datatypes.JSON `json:"payload"`
	Response       datatypes.JSON `json:"response"`
	ErrorMessage   string         `json:"error_message" gorm:"type:text"`
	Operator       string         `json:"operator" gorm:"size:64"`
	TraceID        string         `json:"trace_id" gorm:"size:64;index"`
	CreatedAt      time.Time      `json:"created_at" gorm:"index"`
}

func (ErpDocument) TableName() string { return "erp_documents" }
