package v1

import (
	"encoding/json"
	"time"
)

// DispatchItemResult is the outcome of one queue item in a batch.
type DispatchItemResult struct {
	QueueID        int64  `json:"queue_id"`
	DocumentID     int64  `json:"document_id"`
	DocType        string `json:"doc_type"`
	ErpObject      string `json:"erp_object,omitempty"`
	Status         string `json:"status"`
	ExternalDocID  *int64 `json:"external_doc_id,omitempty"`
	ExternalDocNum *int64 `json:"external_doc_num,omitempty"`
	Error          string `json:"error,omitempty"`
}

type DispatchResult struct {
	Processed int                  `json:"processed"`
	OK        int                  `json:"ok"`
	Fail      int                  `json:"fail"`
	Results   []DispatchItemResult `json:"results"`
}

// SyncResult reports one reconciliation cycle.
type SyncResult struct {
	Entity           string    `json:"entity"`
	Fetched          int       `json:"fetched"`
	Upserted         int       `json:"upserted"`
	From             time.Time `json:"from"`
	Watermark        time.Time `json:"watermark"`
	AfterDoc         int64     `json:"after_doc,omitempty"`
	DegradedTimezone bool      `json:"degraded_timezone,omitempty"`
}

// PayloadPreview is what the dispatcher would send for a document.
type PayloadPreview struct {
	DocumentID int64  `json:"document_id"`
	DocType    string `json:"doc_type"`
	ErpObject  string `json:"erp_object"`
	Path       string `json:"path"`
	Payload    any    `json:"payload"`
}

type DocumentCreated struct {
	DocumentID int64  `json:"document_id"`
	QueueID    int64  `json:"queue_id"`
	DocType    string `json:"doc_type"`
}

type Cursor struct {
	Key       string    `json:"key"`
	Watermark time.Time `json:"watermark"`
	Stored    bool      `json:"stored"`
}

// Audit is one ERP post snapshot.
type Audit struct {
	ID             int64           `json:"id"`
	QueueID        *int64          `json:"queue_id,omitempty"`
	DocumentID     int64           `json:"document_id"`
	DocType        string          `json:"doc_type"`
	ErpObject      string          `json:"erp_object"`
	ExternalDocID  *int64          `json:"external_doc_id,omitempty"`
	ExternalDocNum *int64          `json:"external_doc_num,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	Error          string          `json:"error,omitempty"`
	Operator       string          `json:"operator"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// TokenPair is the login answer as seen by API clients.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}
