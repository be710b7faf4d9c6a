// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"github.com/joeczar/vacay-photo-map-sub003/internal/model"
	"gorm.io/gorm"
)

// TripRepository 接口定义了行程相关的数据持久化操作。
type TripRepository interface {
	Create(trip *model.Trip) error
	FindByID(id uint) (*model.Trip, error)
	FindBySlug(slug string) (*model.Trip, error)
	ListPublished() ([]model.Trip, error)
	// UpdateFields 只更新给定的列。状态迁移依赖这一点保证
	// “远端写入失败则本地状态不变”的语义。
	UpdateFields(id uint, fields map[string]interface{}) error
	Delete(id uint) error
}

// tripRepository 是 TripRepository 接口的 GORM 实现。
type tripRepository struct {
	db *gorm.DB
}

// NewTripRepository 创建一个新的 TripRepository 实例。
func NewTripRepository(db *gorm.DB) TripRepository {
	return &tripRepository{db: db}
}

// Create 在数据库中创建一条行程记录。
func (r *tripRepository) Create(trip *model.Trip) error {
	return r.db.Create(trip).Error
}

// FindByID 根据主键检索行程。
func (r *tripRepository) FindByID(id uint) (*model.Trip, error) {
	var trip model.Trip
	if err := r.db.First(&trip, id).Error; err != nil {
		return nil, err
	}
	return &trip, nil
}

// FindBySlug 根据 slug 检索行程。
func (r *tripRepository) FindBySlug(slug string) (*model.Trip, error) {
	var trip model.Trip
	if err := r.db.Where("slug = ?", slug).First(&trip).Error; err != nil {
		return nil, err
	}
	return &trip, nil
}

// ListPublished 返回所有已发布的行程，草稿永远不会出现在结果中。
func (r *tripRepository) ListPublished() ([]model.Trip, error) {
	var trips []model.Trip
	err := r.db.Where("status = ?", model.TripStatusPublished).
		Order("published_at DESC").Find(&trips).Error
	return trips, err
}

// UpdateFields 更新行程的指定列。
func (r *tripRepository) UpdateFields(id uint, fields map[string]interface{}) error {
	return r.db.Model(&model.Trip{}).Where("id = ?", id).Updates(fields).Error
}

// Delete 删除行程记录。
func (r *tripRepository) Delete(id uint) error {
	return r.db.Delete(&model.Trip{}, id).Error
}
