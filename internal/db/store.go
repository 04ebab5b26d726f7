package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

// Store is the gorm-backed repository used by the sync engine. It only reads
// entities and writes their remote links; creating and editing entities is
// the host application's job.
type Store struct {
	db *gorm.DB
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

func (s *Store) Product(ctx context.Context, id uint) (*Product, error) {
	var p Product
	if err := s.db.WithContext(ctx).Take(&p, id).Error; err != nil {
		return nil, wrapNotFound(err, "product", id)
	}
	return &p, nil
}

func (s *Store) Category(ctx context.Context, id uint) (*Category, error) {
	var c Category
	if err := s.db.WithContext(ctx).Take(&c, id).Error; err != nil {
		return nil, wrapNotFound(err, "category", id)
	}
	return &c, nil
}

func (s *Store) ProductIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&Product{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list product ids: %w", err)
	}
	return ids, nil
}

func (s *Store) CategoryIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&Category{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list category ids: %w", err)
	}
	return ids, nil
}

// UpdateProductLinks writes all remote-link columns of a product in a single
// UPDATE statement. Nil pointers are written as NULL.
func (s *Store) UpdateProductLinks(ctx context.Context, id uint, l ProductLinks) error {
	res := s.db.WithContext(ctx).Model(&Product{}).Where("id = ?", id).Updates(map[string]any{
		"remote_catalog_id":   l.CatalogID,
		"remote_variation_id": l.VariationID,
		"remote_image_id":     l.ImageID,
		"remote_image_hash":   l.ImageHash,
		"remote_version":      l.Version,
	})
	if res.Error != nil {
		return fmt.Errorf("update links of product %d: %w", id, res.Error)
	}
	return nil
}

func (s *Store) SetCategoryRemoteID(ctx context.Context, id uint, remoteID *string) error {
	res := s.db.WithContext(ctx).Model(&Category{}).Where("id = ?", id).
		Update("remote_category_id", remoteID)
	if res.Error != nil {
		return fmt.Errorf("update remote id of category %d: %w", id, res.Error)
	}
	return nil
}

// LinkedProductIDs lists products of a category that still hold a remote
// catalog ID.
func (s *Store) LinkedProductIDs(ctx context.Context, categoryID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&Product{}).
		Where("category_id = ? AND remote_catalog_id IS NOT NULL", categoryID).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("linked products of category %d: %w", categoryID, err)
	}
	return ids, nil
}

// Setting returns the stored value, or "" when the key is absent.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var kv KV
	err := s.db.WithContext(ctx).Where("k = ?", key).Take(&kv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %q: %w", key, err)
	}
	return kv.V, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&KV{K: key, V: value}).Error
	if err != nil {
		return fmt.Errorf("write setting %q: %w", key, err)
	}
	return nil
}

func wrapNotFound(err error, kind string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("load %s %d: %w", kind, id, err)
}
