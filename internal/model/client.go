package model

// IntegrationClient is a machine caller allowed to push documents, such as
// the ledger service.
type IntegrationClient struct {
	ID     uint64 `gorm:"primaryKey"`
	AppID  string `gorm:"size:64;not null"`
	APIKey string `gorm:"size:64;not null;uniqueIndex"`
	Status int    `gorm:"default:1"`
}

func (IntegrationClient) TableName() string { return "integration_clients" }
