// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joeczar/vacay-photo-map-sub003/internal/config"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore 抽象了照片对象的存取操作，便于业务层在测试中替换实现。
type ObjectStore interface {
	// Put 将一个对象写入存储桶。size 为 -1 时表示长度未知。
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error

	// Remove 删除一个对象。对象不存在时不视为错误。
	Remove(ctx context.Context, objectName string) error

	// PublicURL 返回对象的可公开访问地址。
	PublicURL(objectName string) string
}

// MinioStore 是 ObjectStore 的 MinIO 实现。
type MinioStore struct {
	client        *minio.Client
	bucketName    string
	publicBaseURL string
}

// NewMinioStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinioStore(cfg config.MinIOConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶是否存在，如果不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}

	publicBaseURL := cfg.PublicBaseURL
	if publicBaseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBaseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.BucketName)
	}

	return &MinioStore{
		client:        client,
		bucketName:    cfg.BucketName,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}, nil
}

// Put 将对象写入存储桶。
func (s *MinioStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Remove 删除存储桶中的对象。
func (s *MinioStore) Remove(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
}

// PublicURL 返回对象的公开访问地址。
func (s *MinioStore) PublicURL(objectName string) string {
	return s.publicBaseURL + "/" + objectName
}

// PresignedURL 为对象生成一个限时的预签名下载地址。
func (s *MinioStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("生成预签名 URL 失败: %s", err)
		return "", err
	}
	return u.String(), nil
}
