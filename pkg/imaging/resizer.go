// Package imaging 负责照片的方向归一化与尺寸压缩。
//
// 输入可以是常见的光栅格式（JPEG/PNG/GIF），输出统一重编码为 JPEG，
// 且像素已按 EXIF 方向标签旋转/翻转到位，下游不再需要任何方向元数据。
// 与元数据提取一样，该流水线遵循“尽力而为”的降级策略：解码或编码
// 失败时返回原始文件而不是中断整个批次。
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"path"
	"strings"

	// 注册常见照片格式的解码器
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	// DefaultMaxEdge 是归一化图片最长边的默认上限（像素）。
	DefaultMaxEdge = 1600
	// DefaultQuality 是 JPEG 重编码的默认质量。
	DefaultQuality = 85
)

// Options 控制归一化行为。
type Options struct {
	MaxEdge int // 最长边上限，<=0 时使用 DefaultMaxEdge
	Quality int // JPEG 质量 1-100，越界时使用 DefaultQuality
}

// normalize 将零值选项补齐为默认值。
func (o Options) normalize() Options {
	if o.MaxEdge <= 0 {
		o.MaxEdge = DefaultMaxEdge
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

// NormalizedFile 是归一化流水线的输出：方向已归位、最长边有界、
// 统一为 JPEG 的光栅缓冲，附带生成的输出文件名。
type NormalizedFile struct {
	Name        string
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// ResizeResult 是一次归一化的带标记结果。Fallback 为 true 时 File
// 持有未经修改的原始字节（文件仍会被上传，只是未经压缩）。
type ResizeResult struct {
	File     NormalizedFile
	Fallback bool
	Reason   string
}

// Input 是批量归一化的单个输入项。
type Input struct {
	Name        string
	Data        []byte
	ContentType string
	Orientation int // EXIF 方向标签 1-8
}

// Resize 解码一张照片，按 orientation 应用方向校正变换，把最长边
// 压缩到 opts.MaxEdge 以内（绝不放大），并以 JPEG 重编码。
func Resize(in Input, opts Options) ResizeResult {
	opts = opts.normalize()

	src, _, err := image.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return fallback(in, fmt.Sprintf("解码失败: %v", err))
	}

	bounds := src.Bounds()
	sw, sh := targetDims(bounds.Dx(), bounds.Dy(), opts.MaxEdge)

	// 先缩放到目标尺寸
	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	if sw == bounds.Dx() && sh == bounds.Dy() {
		draw.Draw(scaled, scaled.Bounds(), src, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, bounds, draw.Src, nil)
	}

	// 再按方向标签把像素搬运到位
	t := transformFor(in.Orientation)
	dw, dh := t.outputDims(sw, sh)
	out := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			sx, sy := t.sourcePixel(x, y, sw, sh)
			out.SetRGBA(x, y, scaled.RGBAAt(sx, sy))
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return fallback(in, fmt.Sprintf("JPEG 编码失败: %v", err))
	}

	return ResizeResult{
		File: NormalizedFile{
			Name:        outputName(in.Name),
			Data:        buf.Bytes(),
			ContentType: "image/jpeg",
			Width:       dw,
			Height:      dh,
		},
	}
}

// ResizeAll 逐个归一化一批照片并保持输入顺序。光栅解码与变换是
// 整个流水线中内存开销最大的环节，因此批量处理刻意保持串行，
// 同一时刻只有一张图片的位图驻留内存。
func ResizeAll(items []Input, opts Options) []ResizeResult {
	results := make([]ResizeResult, len(items))
	for i, item := range items {
		results[i] = Resize(item, opts)
	}
	return results
}

// targetDims 把最长边压缩到 maxEdge 以内并按比例缩放另一边。
// 源图已在界内时保持原尺寸（不放大）。
func targetDims(w, h, maxEdge int) (int, int) {
	longer := w
	if h > w {
		longer = h
	}
	if longer <= maxEdge {
		return w, h
	}
	scale := float64(maxEdge) / float64(longer)
	tw := int(float64(w)*scale + 0.5)
	th := int(float64(h)*scale + 0.5)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

// outputName 为归一化文件生成输出名：原始主名 + .jpg。
// 扩展名必须在取完 Base 之后再剥离，空输入的 Base 是 "."。
func outputName(name string) string {
	base := path.Base(name)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." {
		base = "photo"
	}
	return base + ".jpg"
}

// fallback 构造降级结果：保留原始字节，由调用方原样上传。
func fallback(in Input, reason string) ResizeResult {
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return ResizeResult{
		File: NormalizedFile{
			Name:        path.Base(in.Name),
			Data:        in.Data,
			ContentType: contentType,
		},
		Fallback: true,
		Reason:   reason,
	}
}
