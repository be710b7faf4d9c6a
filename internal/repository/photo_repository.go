package repository

import (
	"github.com/joeczar/vacay-photo-map-sub003/internal/model"
	"gorm.io/gorm"
)

// PhotoRepository 接口定义了照片相关的数据持久化操作。
type PhotoRepository interface {
	Create(photo *model.Photo) error
	ListByTrip(tripID uint) ([]model.Photo, error)
	CountByTrip(tripID uint) (int64, error)
	DeleteByTrip(tripID uint) error
}

// photoRepository 是 PhotoRepository 接口的 GORM 实现。
type photoRepository struct {
	db *gorm.DB
}

// NewPhotoRepository 创建一个新的 PhotoRepository 实例。
func NewPhotoRepository(db *gorm.DB) PhotoRepository {
	return &photoRepository{db: db}
}

// Create 在数据库中创建一条照片记录。
func (r *photoRepository) Create(photo *model.Photo) error {
	return r.db.Create(photo).Error
}

// ListByTrip 按行程内顺序返回一个行程的全部照片。
func (r *photoRepository) ListByTrip(tripID uint) ([]model.Photo, error) {
	var photos []model.Photo
	err := r.db.Where("trip_id = ?", tripID).Order("position ASC").Find(&photos).Error
	return photos, err
}

// CountByTrip 返回一个行程当前的照片数。
func (r *photoRepository) CountByTrip(tripID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.Photo{}).Where("trip_id = ?", tripID).Count(&count).Error
	return count, err
}

// DeleteByTrip 删除一个行程的全部照片记录。
func (r *photoRepository) DeleteByTrip(tripID uint) error {
	return r.db.Where("trip_id = ?", tripID).Delete(&model.Photo{}).Error
}
