package database

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("连接 Redis 失败", err)
	}

	log.Info("Redis 客户端连接成功")
}
