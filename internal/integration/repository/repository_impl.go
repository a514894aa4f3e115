package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/integration/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert keeps one row per organization and provider.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, row *domain.ProviderIntegration) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "organization_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_id", "endpoint_url", "secret_id", "metadata", "status", "updated_at",
		}),
	}).Create(row).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider domain.Provider) (*domain.ProviderIntegration, error) {
	var row domain.ProviderIntegration
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, provider, external_id, endpoint_url, secret_id, metadata, status, created_at, updated_at
		 FROM provider_integrations
		 WHERE organization_id = ? AND provider = ?`,
		orgID, provider,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.ProviderIntegration, error) {
	var rows []domain.ProviderIntegration
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, provider, external_id, endpoint_url, secret_id, metadata, status, created_at, updated_at
		 FROM provider_integrations
		 WHERE organization_id = ?
		 ORDER BY provider ASC`,
		orgID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
