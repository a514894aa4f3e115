package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/device/domain"
	"gorm.io/gorm"
)

const deviceColumns = `id, user_id, organization_id, name, device_type, fingerprint, status, trust_level,
	enrollment_token, token_expires_at, enrolled_at, last_seen, metadata, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, d *domain.Device) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO devices (`+deviceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.UserID,
		d.OrgID,
		d.Name,
		d.DeviceType,
		d.Fingerprint,
		d.Status,
		d.TrustLevel,
		d.EnrollmentToken,
		d.TokenExpiresAt,
		d.EnrolledAt,
		d.LastSeen,
		d.Metadata,
		d.CreatedAt,
		d.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Device, error) {
	return r.findOne(ctx, db, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
}

func (r *repo) FindPendingByToken(ctx context.Context, db *gorm.DB, tokenHash string) (*domain.Device, error) {
	return r.findOne(ctx, db,
		`SELECT `+deviceColumns+` FROM devices WHERE enrollment_token = ? AND status = ?`,
		tokenHash, domain.StatusPending,
	)
}

func (r *repo) FindByFingerprint(ctx context.Context, db *gorm.DB, userID snowflake.ID, fingerprint string) (*domain.Device, error) {
	return r.findOne(ctx, db,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = ? AND fingerprint = ?`,
		userID, fingerprint,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Device, error) {
	var d domain.Device
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&d).Error; err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, nil
	}
	return &d, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) ([]domain.Device, error) {
	stmt := db.WithContext(ctx).Model(&domain.Device{}).Where("organization_id = ?", req.OrgID)
	if req.UserID != 0 {
		stmt = stmt.Where("user_id = ?", req.UserID)
	}

	var items []domain.Device
	if err := stmt.Order("created_at desc, id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Activate is the single-use compare-and-swap for token verification.
func (r *repo) Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, tokenHash, fingerprint string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE devices
		 SET status = ?, trust_level = ?, fingerprint = ?, enrollment_token = NULL, token_expires_at = NULL,
		     enrolled_at = ?, last_seen = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND enrollment_token = ? AND token_expires_at > ?`,
		domain.StatusActive,
		domain.TrustHigh,
		fingerprint,
		now,
		now,
		now,
		id,
		domain.StatusPending,
		tokenHash,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE devices SET last_seen = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	).Error
}

func (r *repo) ResetToPending(ctx context.Context, db *gorm.DB, id snowflake.ID, tokenHash string, expiresAt, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE devices
		 SET status = ?, trust_level = ?, fingerprint = NULL, enrollment_token = ?, token_expires_at = ?,
		     enrolled_at = NULL, updated_at = ?
		 WHERE id = ?`,
		domain.StatusPending,
		domain.TrustLow,
		tokenHash,
		expiresAt,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM devices WHERE id = ?`, id).Error
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, e *domain.DeviceEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO device_events (id, device_id, organization_id, event_type, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.DeviceID,
		e.OrgID,
		e.EventType,
		e.Details,
		e.CreatedAt,
	).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, orgID, deviceID snowflake.ID) ([]domain.DeviceEvent, error) {
	var items []domain.DeviceEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, device_id, organization_id, event_type, details, created_at
		 FROM device_events
		 WHERE organization_id = ? AND device_id = ?
		 ORDER BY id ASC`,
		orgID, deviceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
