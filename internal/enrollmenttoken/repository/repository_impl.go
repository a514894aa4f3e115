package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, t *domain.EnrollmentToken) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO enrollment_tokens (id, organization_id, user_id, token_type, device_type, token_hash, expires_at, used_at, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		t.ID,
		t.OrgID,
		t.UserID,
		t.TokenType,
		t.DeviceType,
		t.TokenHash,
		t.ExpiresAt,
		t.Metadata,
		t.CreatedAt,
	).Error
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string, tokenType domain.TokenType) (*domain.EnrollmentToken, error) {
	var t domain.EnrollmentToken
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, user_id, token_type, device_type, token_hash, expires_at, used_at, metadata, created_at
		 FROM enrollment_tokens
		 WHERE token_hash = ? AND token_type = ?`,
		hash,
		tokenType,
	).Scan(&t).Error
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, nil
	}
	return &t, nil
}

// MarkUsed sets used_at once, only while the token is still valid. A zero
// orgID matches tokens of any organization.
func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) (bool, error) {
	query := `UPDATE enrollment_tokens
		 SET used_at = ?
		 WHERE id = ? AND used_at IS NULL AND expires_at > ?`
	args := []any{now, id, now}
	if orgID != 0 {
		query += ` AND organization_id = ?`
		args = append(args, orgID)
	}

	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteExpiredBefore removes tokens that expired, or were consumed, before cutoff.
func (r *repo) DeleteExpiredBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM enrollment_tokens
		 WHERE expires_at < ? OR (used_at IS NOT NULL AND used_at < ?)`,
		cutoff,
		cutoff,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
