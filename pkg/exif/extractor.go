// Package exif 负责从原始照片文件中提取拍摄元数据。
//
// 提取遵循“软失败”策略：元数据块缺失或损坏绝不能阻塞一张本身有效
// 的照片上传，因此任何解析失败都会退化为一个仅含当前时间戳的结果，
// 并通过 Result 的标记位告知调用方。
package exif

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Metadata 是从单张照片中提取出的拍摄元数据。
type Metadata struct {
	Latitude    *float64  // WGS84 纬度，缺失时为 nil
	Longitude   *float64  // WGS84 经度，缺失时为 nil
	TakenAt     time.Time // 拍摄时间，缺失时退化为提取时刻
	CameraMake  string
	CameraModel string
	Orientation int // EXIF 方向标签 1-8，缺失时为 1（即无需变换）
}

// Result 是一次提取的带标记结果，调用方和测试可以据此区分
// “成功提取”与“退化为默认值”。
type Result struct {
	Meta     Metadata
	Fallback bool   // true 表示解析失败，Meta 为默认值
	Reason   string // Fallback 时的失败原因，用于日志
}

// Extract 从照片字节流中提取元数据。任何解析失败（包括解析器内部
// panic）都不会向外传播，而是返回一个 Fallback 结果。
func Extract(data []byte) Result {
	x, err := decodeSafe(data)
	if err != nil {
		return Result{
			Meta:     Metadata{TakenAt: time.Now(), Orientation: 1},
			Fallback: true,
			Reason:   err.Error(),
		}
	}

	meta := Metadata{Orientation: 1}

	if dt, err := x.DateTime(); err == nil {
		meta.TakenAt = dt
	} else {
		meta.TakenAt = time.Now()
	}

	if lat, lng, err := x.LatLong(); err == nil {
		meta.Latitude = &lat
		meta.Longitude = &lng
	}

	if tag, err := x.Get(exif.Make); err == nil {
		if v, err := tag.StringVal(); err == nil {
			meta.CameraMake = v
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if v, err := tag.StringVal(); err == nil {
			meta.CameraModel = v
		}
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
			meta.Orientation = v
		}
	}

	return Result{Meta: meta}
}

// ExtractAll 并发地提取一批照片的元数据，各文件互不依赖。
// 返回切片与输入顺序一一对应，与完成顺序无关。
func ExtractAll(blobs [][]byte) []Result {
	results := make([]Result, len(blobs))
	var wg sync.WaitGroup
	for i, blob := range blobs {
		wg.Add(1)
		go func(i int, blob []byte) {
			defer wg.Done()
			results[i] = Extract(blob)
		}(i, blob)
	}
	wg.Wait()
	return results
}

// decodeSafe 包装 exif.Decode，防止解析器在畸形文件上 panic。
func decodeSafe(data []byte) (x *exif.Exif, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("EXIF 解析 panic: %v", rec)
		}
	}()
	return exif.Decode(bytes.NewReader(data))
}
