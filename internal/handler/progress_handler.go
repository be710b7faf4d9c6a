package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joeczar/vacay-photo-map-sub003/internal/service"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ProgressHandler 通过 WebSocket 推送批次上传进度。
// 浏览器的 WebSocket API 无法自定义请求头，凭证放在路径参数中。
type ProgressHandler struct {
	tracker    *service.ProgressTracker
	jwtManager *token.JWTManager
}

// NewProgressHandler 创建一个新的 ProgressHandler 实例。
func NewProgressHandler(tracker *service.ProgressTracker, jwtManager *token.JWTManager) *ProgressHandler {
	return &ProgressHandler{tracker: tracker, jwtManager: jwtManager}
}

// Handle 处理一个进度订阅连接：按固定间隔推送批次快照，
// 批次终结后推送最终快照并关闭连接。批次只对创建它的用户可见，
// 他人订阅与不存在同样表现为 404。
func (h *ProgressHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	batchID := c.Param("batchId")
	owner, ok := h.tracker.Owner(batchID)
	if !ok || owner != claims.UserID {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "上传批次不存在或已过期", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("进度订阅连接已建立, batchID: %s", batchID)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		snapshot, ok := h.tracker.Snapshot(batchID)
		if !ok {
			return
		}
		if err := conn.WriteJSON(snapshot); err != nil {
			log.Warnf("推送进度失败，关闭连接, batchID: %s, error: %v", batchID, err)
			return
		}
		if snapshot.Done {
			log.Infof("批次已终结，关闭进度订阅, batchID: %s", batchID)
			return
		}
	}
}
