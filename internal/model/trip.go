// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 行程的可见性状态。草稿行程绝不会出现在任何公开读取路径中，
// 发布是单向的：回到不可见的唯一途径是删除行程。
const (
	TripStatusDraft     = "draft"
	TripStatusPublished = "published"
)

// Trip 定义了 trip 表的 ORM 模型。
// Protected 与 Status 是两个正交的轴：一个行程可以在任一状态下
// 切换公开/令牌保护；令牌只保存哈希，明文从不落库。
type Trip struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug        string     `gorm:"type:varchar(120);uniqueIndex;not null" json:"slug"`
	Title       string     `gorm:"type:varchar(255);not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"type:varchar(16);not null;default:draft" json:"status"`
	Protected   bool       `gorm:"not null;default:false" json:"protected"`
	TokenHash   string     `gorm:"type:varchar(100)" json:"-"`
	CoverID     *uint      `gorm:"default:null" json:"coverId"`
	OwnerID     uint       `gorm:"not null;index" json:"ownerId"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
	PublishedAt *time.Time `gorm:"default:null" json:"publishedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Trip) TableName() string {
	return "trip"
}

// IsDraft 报告行程是否仍处于草稿状态。
func (t *Trip) IsDraft() bool {
	return t.Status == TripStatusDraft
}
