// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joeczar/vacay-photo-map-sub003/internal/middleware"
	"github.com/joeczar/vacay-photo-map-sub003/internal/service"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/token"
)

// TripHandler 负责处理所有与行程生命周期相关的 API 请求。
type TripHandler struct {
	tripService service.TripService
}

// NewTripHandler 创建一个新的 TripHandler 实例。
func NewTripHandler(tripService service.TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

// CreateTripRequest 定义了创建行程 API 的请求体结构。
type CreateTripRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// CreateTrip 处理创建行程的请求，新行程处于草稿状态。
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return
	}

	trip, err := h.tripService.Create(c.Request.Context(), claims.UserID, req.Title, req.Description)
	if err != nil {
		respondServiceError(c, "创建行程失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "行程创建成功",
		"data":    trip,
	})
}

// ListTrips 返回所有已发布的行程，草稿不会出现在结果中。
func (h *TripHandler) ListTrips(c *gin.Context) {
	trips, err := h.tripService.ListPublished(c.Request.Context())
	if err != nil {
		respondServiceError(c, "获取行程列表失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取行程列表成功",
		"data":    trips,
	})
}

// GetTrip 处理公开读取路径：按 slug 读取行程与照片，受保护行程
// 需要在 token 查询参数中携带明文令牌。
func (h *TripHandler) GetTrip(c *gin.Context) {
	slug := c.Param("slug")
	plainToken := c.Query("token")

	view, err := h.tripService.GetBySlug(c.Request.Context(), slug, plainToken)
	if err != nil {
		respondServiceError(c, "读取行程失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "读取行程成功",
		"data":    view,
	})
}

// UpdateTripRequest 定义了更新行程 API 的请求体结构。
type UpdateTripRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// UpdateTrip 处理更新行程标题/描述的请求。
func (h *TripHandler) UpdateTrip(c *gin.Context) {
	tripID, claims, ok := tripIDAndClaims(c)
	if !ok {
		return
	}
	var req UpdateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	trip, err := h.tripService.Update(c.Request.Context(), tripID, claims.UserID, req.Title, req.Description)
	if err != nil {
		respondServiceError(c, "更新行程失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "更新行程成功",
		"data":    trip,
	})
}

// PublishTrip 处理发布行程的请求。
func (h *TripHandler) PublishTrip(c *gin.Context) {
	tripID, claims, ok := tripIDAndClaims(c)
	if !ok {
		return
	}

	trip, err := h.tripService.Publish(c.Request.Context(), tripID, claims.UserID)
	if err != nil {
		respondServiceError(c, "发布行程失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "行程发布成功",
		"data":    trip,
	})
}

// SetProtectionRequest 定义了切换保护模式 API 的请求体结构。
// Token 可选：开启保护且未提供时由服务端生成。
type SetProtectionRequest struct {
	Gated bool   `json:"gated"`
	Token string `json:"token"`
}

// SetProtection 处理切换公开/令牌保护模式的请求。
// 开启保护时响应中携带明文令牌，该明文只在此处返回一次。
func (h *TripHandler) SetProtection(c *gin.Context) {
	tripID, claims, ok := tripIDAndClaims(c)
	if !ok {
		return
	}
	var req SetProtectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	plainToken, err := h.tripService.SetProtection(c.Request.Context(), tripID, claims.UserID, req.Gated, req.Token)
	if err != nil {
		respondServiceError(c, "切换保护模式失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "保护模式已更新",
		"data":    gin.H{"gated": req.Gated, "token": plainToken},
	})
}

// RegenerateToken 处理轮换分享令牌的请求，旧令牌立即失效。
func (h *TripHandler) RegenerateToken(c *gin.Context) {
	tripID, claims, ok := tripIDAndClaims(c)
	if !ok {
		return
	}

	plainToken, err := h.tripService.RegenerateToken(c.Request.Context(), tripID, claims.UserID)
	if err != nil {
		respondServiceError(c, "重新生成令牌失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "令牌已重新生成，旧令牌已失效",
		"data":    gin.H{"token": plainToken},
	})
}

// DeleteTrip 处理删除行程的请求。
func (h *TripHandler) DeleteTrip(c *gin.Context) {
	tripID, claims, ok := tripIDAndClaims(c)
	if !ok {
		return
	}

	if err := h.tripService.Delete(c.Request.Context(), tripID, claims.UserID); err != nil {
		respondServiceError(c, "删除行程失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "行程已删除",
	})
}

// tripIDAndClaims 解析路径中的行程 ID 并取出认证 claims。
func tripIDAndClaims(c *gin.Context) (uint, *token.CustomClaims, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的行程 ID"})
		return 0, nil, false
	}
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无法获取用户信息"})
		return 0, nil, false
	}
	return uint(id), claims, true
}

// respondServiceError 把业务层哨兵错误映射为 HTTP 状态码。
// 未授权与不存在必须可区分，前端才能展示“受保护行程”的提示。
func respondServiceError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrTripNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "行程不存在"})
	case errors.Is(err, service.ErrTripUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "令牌无效，该行程受保护"})
	case errors.Is(err, service.ErrNotTripOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "无权操作该行程"})
	case errors.Is(err, service.ErrTripNotDraft), errors.Is(err, service.ErrTripAlreadyPublished):
		c.JSON(http.StatusConflict, gin.H{"error": "行程状态不允许该操作"})
	case errors.Is(err, service.ErrBatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "上传批次不存在或已过期"})
	case errors.Is(err, service.ErrNoFiles):
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求中没有文件"})
	default:
		log.Error(msg, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
	}
}
