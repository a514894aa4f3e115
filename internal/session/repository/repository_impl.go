package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/session/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *domain.AccessSession) error {
	return db.WithContext(ctx).Create(s).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.AccessSession, error) {
	var s domain.AccessSession
	err := db.WithContext(ctx).Where("id = ?", id).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkConnected records the first gateway handshake only.
func (r *repo) MarkConnected(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE access_sessions SET connected_at = ? WHERE id = ? AND connected_at IS NULL`,
		now, id,
	).Error
}

// Finish moves an active session to a terminal status. It reports false when
// the session was already finished.
func (r *repo) Finish(ctx context.Context, db *gorm.DB, id string, status domain.Status, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE access_sessions SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
		status, now, id, domain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, orgID, profileID snowflake.ID) ([]domain.AccessSession, error) {
	stmt := db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, domain.StatusActive)
	if profileID != 0 {
		stmt = stmt.Where("profile_id = ?", profileID)
	}
	var items []domain.AccessSession
	err := stmt.Order("id desc").Find(&items).Error
	return items, err
}

func (r *repo) ExpireBefore(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE access_sessions SET status = ?, ended_at = ? WHERE status = ? AND expires_at <= ?`,
		domain.StatusExpired, now, domain.StatusActive, now,
	)
	return res.RowsAffected, res.Error
}
