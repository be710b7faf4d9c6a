// Package tasks defines the event payloads that are sent to Kafka.
package tasks

// PhotoProcessedEvent 表示一张照片完成归一化并成功入库后发出的事件。
// 下游（例如地图索引服务）据此更新展示数据。
type PhotoProcessedEvent struct {
	TripID       uint     `json:"trip_id"`
	PhotoID      uint     `json:"photo_id"`
	StorageKey   string   `json:"storage_key"`
	PublicURL    string   `json:"public_url"`
	ThumbnailURL string   `json:"thumbnail_url"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	TakenAt      string   `json:"taken_at"`
}

// TripPublishedEvent 表示一个行程从草稿变为已发布。
type TripPublishedEvent struct {
	TripID     uint   `json:"trip_id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	PhotoCount int    `json:"photo_count"`
	Protected  bool   `json:"protected"`
}
