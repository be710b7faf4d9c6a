package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joeczar/vacay-photo-map-sub003/internal/middleware"
	"github.com/joeczar/vacay-photo-map-sub003/internal/service"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
)

// UploadHandler 负责处理照片批量上传与重试相关的 API 请求。
type UploadHandler struct {
	tripService service.TripService
	tracker     *service.ProgressTracker
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(tripService service.TripService, tracker *service.ProgressTracker) *UploadHandler {
	return &UploadHandler{tripService: tripService, tracker: tracker}
}

// UploadPhotos 处理草稿行程的批量照片上传。
// 部分失败不会使整个请求失败：响应精确报告“成功 N 张、失败 M 张”，
// 并附带可用于重试的批次 ID。
func (h *UploadHandler) UploadPhotos(c *gin.Context) {
	tripID, claims, ok := tripIDAndClaims(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 multipart 请求"})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求中没有文件"})
		return
	}

	files := make([]service.SourceFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传文件失败: " + fh.Filename})
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传文件失败: " + fh.Filename})
			return
		}
		files = append(files, service.SourceFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	result, err := h.tripService.AddPhotos(c.Request.Context(), tripID, claims.UserID, files, nil)
	if err != nil {
		respondServiceError(c, "批量上传失败", err)
		return
	}

	succeeded := len(files) - len(result.Errors)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": fmt.Sprintf("成功 %d 张，失败 %d 张", succeeded, len(result.Errors)),
		"data":    result,
	})
}

// RetryUploadsRequest 定义了重试上传 API 的请求体结构。
type RetryUploadsRequest struct {
	BatchID string `json:"batchId" binding:"required"`
}

// RetryUploads 只重试批次中上次失败的文件；已成功的文件不会被
// 重新上传。每次调用只做一轮，是否继续重试由客户端决定。
func (h *UploadHandler) RetryUploads(c *gin.Context) {
	tripID, claims, ok := tripIDAndClaims(c)
	if !ok {
		return
	}
	var req RetryUploadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	result, err := h.tripService.RetryFailedUploads(c.Request.Context(), tripID, claims.UserID, req.BatchID, nil)
	if err != nil {
		respondServiceError(c, "重试上传失败", err)
		return
	}

	succeeded := 0
	for _, r := range result.Results {
		if r != nil {
			succeeded++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": fmt.Sprintf("成功 %d 张，失败 %d 张", succeeded, len(result.Errors)),
		"data":    result,
	})
}

// GetProgress 返回一个批次的进度快照，供断线后的客户端轮询。
// 批次只对创建它的用户可见，他人请求与不存在同样表现为 404。
func (h *UploadHandler) GetProgress(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	batchID := c.Param("batchId")
	owner, found := h.tracker.Owner(batchID)
	if !found || owner != claims.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "上传批次不存在或已过期"})
		return
	}
	snapshot, ok := h.tracker.Snapshot(batchID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "上传批次不存在或已过期"})
		return
	}
	log.Infof("[GetProgress] 查询批次进度, batchID: %s, overall: %d", batchID, snapshot.Overall)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取进度成功",
		"data":    snapshot,
	})
}
