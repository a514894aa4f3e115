package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/resource/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertResource(ctx context.Context, db *gorm.DB, res *domain.Resource) error {
	return db.WithContext(ctx).Create(res).Error
}

func (r *repo) FindResource(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Resource, error) {
	var res domain.Resource
	err := db.WithContext(ctx).Where("id = ?", id).Take(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *repo) ListResources(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Resource, error) {
	var items []domain.Resource
	err := db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("name asc, id asc").
		Find(&items).Error
	return items, err
}

func (r *repo) SaveResource(ctx context.Context, db *gorm.DB, res *domain.Resource) error {
	return db.WithContext(ctx).Save(res).Error
}

// DeleteResource removes the resource and every grant pointing at it.
func (r *repo) DeleteResource(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", id).Delete(&domain.ResourceGrant{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Resource{}).Error
	})
}

func (r *repo) InsertGroup(ctx context.Context, db *gorm.DB, g *domain.Group) error {
	return db.WithContext(ctx).Create(g).Error
}

func (r *repo) FindGroup(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Group, error) {
	var g domain.Group
	err := db.WithContext(ctx).Where("id = ?", id).Take(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *repo) ListGroups(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Group, error) {
	var items []domain.Group
	err := db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("name asc").
		Find(&items).Error
	return items, err
}

func (r *repo) DeleteGroup(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", id).Delete(&domain.GroupMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&domain.ResourceGrant{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Group{}).Error
	})
}

func (r *repo) AddMember(ctx context.Context, db *gorm.DB, m *domain.GroupMember) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

func (r *repo) RemoveMember(ctx context.Context, db *gorm.DB, groupID, profileID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("group_id = ? AND profile_id = ?", groupID, profileID).
		Delete(&domain.GroupMember{}).Error
}

func (r *repo) ListMembers(ctx context.Context, db *gorm.DB, groupID snowflake.ID) ([]domain.GroupMember, error) {
	var items []domain.GroupMember
	err := db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at asc").
		Find(&items).Error
	return items, err
}

func (r *repo) AddGrant(ctx context.Context, db *gorm.DB, g *domain.ResourceGrant) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(g).Error
}

func (r *repo) RemoveGrant(ctx context.Context, db *gorm.DB, resourceID, groupID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("resource_id = ? AND group_id = ?", resourceID, groupID).
		Delete(&domain.ResourceGrant{}).Error
}

func (r *repo) CountGrantsForProfile(ctx context.Context, db *gorm.DB, profileID, resourceID snowflake.ID) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM resource_grants g
		 JOIN group_members m ON m.group_id = g.group_id
		 WHERE g.resource_id = ? AND m.profile_id = ?`,
		resourceID, profileID,
	).Scan(&n).Error
	return n, err
}

func (r *repo) ListGrantedResources(ctx context.Context, db *gorm.DB, orgID, profileID snowflake.ID) ([]domain.Resource, error) {
	var items []domain.Resource
	err := db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Where(`id IN (
			SELECT g.resource_id
			FROM resource_grants g
			JOIN group_members m ON m.group_id = g.group_id
			WHERE m.profile_id = ?)`, profileID).
		Order("name asc, id asc").
		Find(&items).Error
	return items, err
}
