package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// ProgressRepository 接口定义了批次上传进度在 Redis 中的镜像操作。
// 权威的进度状态由编排器在内存中单写者维护，Redis 镜像只服务于
// 断线重连后的轮询读取。
type ProgressRepository interface {
	MirrorProgress(ctx context.Context, batchID string, fields map[string]interface{}, ttl time.Duration) error
	GetProgress(ctx context.Context, batchID string) (map[string]string, error)
	ClearProgress(ctx context.Context, batchID string) error
}

// progressRepository 是 ProgressRepository 接口的 Redis 实现。
type progressRepository struct {
	redisClient *redis.Client
}

// NewProgressRepository 创建一个新的 ProgressRepository 实例。
func NewProgressRepository(redisClient *redis.Client) ProgressRepository {
	return &progressRepository{redisClient: redisClient}
}

// getProgressKey generates the redis key for batch upload progress.
func (r *progressRepository) getProgressKey(batchID string) string {
	return "upload:progress:" + batchID
}

// MirrorProgress 将一个批次的进度字段写入 Redis 哈希并刷新过期时间。
func (r *progressRepository) MirrorProgress(ctx context.Context, batchID string, fields map[string]interface{}, ttl time.Duration) error {
	key := r.getProgressKey(batchID)
	if err := r.redisClient.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return r.redisClient.Expire(ctx, key, ttl).Err()
}

// GetProgress 读取一个批次在 Redis 中的全部进度字段。
func (r *progressRepository) GetProgress(ctx context.Context, batchID string) (map[string]string, error) {
	return r.redisClient.HGetAll(ctx, r.getProgressKey(batchID)).Result()
}

// ClearProgress 删除一个批次的进度镜像。
func (r *progressRepository) ClearProgress(ctx context.Context, batchID string) error {
	return r.redisClient.Del(ctx, r.getProgressKey(batchID)).Err()
}
