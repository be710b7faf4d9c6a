package imaging

// transform 描述一个 EXIF 方向值对应的几何变换。
// 变换以“目标像素 -> 源像素”的映射表达：先按 swapDims 决定是否转置
// 坐标，再对源坐标做水平/垂直翻转。8 种情况全部是数据而非分支。
type transform struct {
	swapDims bool // 方向 5-8：输出画布宽高相对源图转置
	flipH    bool // 源 x 坐标取镜像
	flipV    bool // 源 y 坐标取镜像
}

// orientationTransforms 将 EXIF 方向标签（1-8）映射为几何变换。
// 值 1 为恒等变换；未知值按 1 处理。
var orientationTransforms = map[int]transform{
	1: {},                                             // 正常
	2: {flipH: true},                                  // 水平镜像
	3: {flipH: true, flipV: true},                     // 旋转 180°
	4: {flipV: true},                                  // 垂直镜像
	5: {swapDims: true},                               // 沿主对角线转置
	6: {swapDims: true, flipV: true},                  // 顺时针旋转 90°
	7: {swapDims: true, flipH: true, flipV: true},     // 沿副对角线转置
	8: {swapDims: true, flipH: true},                  // 逆时针旋转 90°
}

// transformFor 返回方向标签对应的变换，越界的标签视为恒等。
func transformFor(orientation int) transform {
	if t, ok := orientationTransforms[orientation]; ok {
		return t
	}
	return transform{}
}

// sourcePixel 计算目标坐标 (x, y) 在 w×h 源图中对应的像素位置。
func (t transform) sourcePixel(x, y, w, h int) (int, int) {
	sx, sy := x, y
	if t.swapDims {
		sx, sy = y, x
	}
	if t.flipH {
		sx = w - 1 - sx
	}
	if t.flipV {
		sy = h - 1 - sy
	}
	return sx, sy
}

// outputDims 返回经过变换后输出画布的宽高。
func (t transform) outputDims(w, h int) (int, int) {
	if t.swapDims {
		return h, w
	}
	return w, h
}
