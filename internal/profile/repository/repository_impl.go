package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/profile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.Profile) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO profiles (id, organization_id, email, full_name, role, external_user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.OrgID,
		p.Email,
		p.FullName,
		p.Role,
		p.ExternalUserID,
		p.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Profile, error) {
	var p domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, email, full_name, role, external_user_id, created_at
		 FROM profiles WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Profile, error) {
	var items []domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, email, full_name, role, external_user_id, created_at
		 FROM profiles WHERE organization_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateRole(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, role domain.Role) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE profiles SET role = ? WHERE id = ? AND organization_id = ?`,
		role, id, orgID,
	)
	return res.RowsAffected, res.Error
}
