package repository

import (
	"context"
	"errors"

	"stockbridge/internal/model"

	"gorm.io/gorm"
)

// ClientKeyRepository validates API keys of machine callers.
type ClientKeyRepository interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (string, bool, error)
}

type IntegrationClientRepository struct {
	db *gorm.DB
}

func NewIntegrationClientRepository(db *gorm.DB) *IntegrationClientRepository {
	return &IntegrationClientRepository{db: db}
}

// ValidateAPIKey returns the app id owning an active key.
func (r *IntegrationClientRepository) ValidateAPIKey(ctx context.Context, apiKey string) (string, bool, error) {
	var client model.IntegrationClient
	err := r.db.WithContext(ctx).
		Where("api_key = ? AND status = 1", apiKey).
		First(&client).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return client.AppID, true, nil
}
