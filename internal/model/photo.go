package model

import "time"

// Photo 定义了 photo 表的 ORM 模型。
// 一行照片记录只会在对象存储写入成功之后创建，因此表中的每条记录
// 都指向一个真实存在的归一化对象。
type Photo struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TripID       uint      `gorm:"not null;index" json:"tripId"`
	Position     int       `gorm:"not null" json:"position"` // 在行程内的稳定顺序
	FileName     string    `gorm:"type:varchar(255);not null" json:"fileName"`
	StorageKey   string    `gorm:"type:varchar(255);not null" json:"storageKey"`
	ThumbKey     string    `gorm:"type:varchar(255);not null" json:"-"`
	PublicURL    string    `gorm:"type:varchar(512);not null" json:"publicUrl"`
	ThumbnailURL string    `gorm:"type:varchar(512);not null" json:"thumbnailUrl"`
	Latitude     *float64  `gorm:"default:null" json:"latitude"`
	Longitude    *float64  `gorm:"default:null" json:"longitude"`
	TakenAt      time.Time `gorm:"not null" json:"takenAt"`
	CameraMake   string    `gorm:"type:varchar(100)" json:"cameraMake"`
	CameraModel  string    `gorm:"type:varchar(100)" json:"cameraModel"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Photo) TableName() string {
	return "photo"
}

// HasCoordinates 报告照片是否带有完整的 GPS 坐标。
func (p *Photo) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}
