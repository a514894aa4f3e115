package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/secretstore/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *domain.EncryptedSecret) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO encrypted_secrets (id, organization_id, key_name, secret_type, encrypted_value, metadata, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.OrgID,
		s.KeyName,
		s.SecretType,
		s.EncryptedValue,
		s.Metadata,
		s.ExpiresAt,
		s.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.EncryptedSecret, error) {
	var s domain.EncryptedSecret
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, key_name, secret_type, encrypted_value, metadata, expires_at, created_at
		 FROM encrypted_secrets WHERE id = ?`,
		id,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return &s, nil
}
