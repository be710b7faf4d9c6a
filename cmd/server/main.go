// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joeczar/vacay-photo-map-sub003/internal/config"
	"github.com/joeczar/vacay-photo-map-sub003/internal/handler"
	"github.com/joeczar/vacay-photo-map-sub003/internal/middleware"
	"github.com/joeczar/vacay-photo-map-sub003/internal/model"
	"github.com/joeczar/vacay-photo-map-sub003/internal/repository"
	"github.com/joeczar/vacay-photo-map-sub003/internal/service"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/database"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/kafka"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/storage"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储和 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.Trip{}, &model.Photo{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	store, err := storage.NewMinioStore(cfg.MinIO)
	if err != nil {
		log.Fatal("初始化 MinIO 失败", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository
	tripRepo := repository.NewTripRepository(database.DB)
	photoRepo := repository.NewPhotoRepository(database.DB)
	progressRepo := repository.NewProgressRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tracker := service.NewProgressTracker(progressRepo, time.Duration(cfg.Upload.ProgressTTLMinutes)*time.Minute)
	uploadService := service.NewUploadService(store, photoRepo, producer, tracker, cfg.Upload.ThumbEdge, cfg.Upload.Quality)
	tripService := service.NewTripService(tripRepo, photoRepo, uploadService, store, producer, cfg.Upload.MaxEdge, cfg.Upload.Quality)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	tripHandler := handler.NewTripHandler(tripService)
	uploadHandler := handler.NewUploadHandler(tripService, tracker)
	progressHandler := handler.NewProgressHandler(tracker, jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		trips := apiV1.Group("/trips")
		{
			// 无需认证的公开读取路径
			trips.GET("", tripHandler.ListTrips)
			trips.GET("/:slug", tripHandler.GetTrip)

			// 需要认证的行程管理路由
			authed := trips.Group("")
			authed.Use(middleware.AuthMiddleware(jwtManager))
			{
				authed.POST("", tripHandler.CreateTrip)
				authed.PATCH("/:id", tripHandler.UpdateTrip)
				authed.DELETE("/:id", tripHandler.DeleteTrip)
				authed.POST("/:id/publish", tripHandler.PublishTrip)
				authed.PUT("/:id/protection", tripHandler.SetProtection)
				authed.POST("/:id/protection/regenerate", tripHandler.RegenerateToken)
				authed.POST("/:id/photos", uploadHandler.UploadPhotos)
				authed.POST("/:id/photos/retry", uploadHandler.RetryUploads)
			}
		}

		uploads := apiV1.Group("/uploads")
		uploads.Use(middleware.AuthMiddleware(jwtManager))
		{
			uploads.GET("/:batchId/progress", uploadHandler.GetProgress)
		}
	}

	// 进度推送 (WebSocket)，凭证在路径参数中
	r.GET("/ws/uploads/:batchId/:token", progressHandler.Handle)

	// 8. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
