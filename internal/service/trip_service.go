package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/joeczar/vacay-photo-map-sub003/internal/model"
	"github.com/joeczar/vacay-photo-map-sub003/internal/repository"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/exif"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/imaging"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/kafka"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/storage"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/tasks"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/token"
	"gorm.io/gorm"
)

// SourceFile 是调用方选择的一个原始照片文件。所有组件都只读取它，
// 绝不修改。
type SourceFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// AddPhotosResult 是一次草稿批量加图的结果。CoverCandidateID 只是
// 重新计算出的候选封面，在发布之前不会持久化。
type AddPhotosResult struct {
	BatchID          string         `json:"batchId"`
	Results          []*UploadResult `json:"results"`
	Errors           []UploadError  `json:"errors"`
	CoverCandidateID *uint          `json:"coverCandidateId"`
}

// TripView 是对外读取路径返回的行程视图。
type TripView struct {
	Trip   model.Trip    `json:"trip"`
	Photos []model.Photo `json:"photos"`
}

// TripService 接口定义了行程生命周期相关的业务操作。
// 状态机：Draft ->（publish，不可逆）-> Published；正交轴：
// 公开 <-> 令牌保护，两种状态下均可切换。
type TripService interface {
	Create(ctx context.Context, ownerID uint, title, description string) (*model.Trip, error)
	Update(ctx context.Context, tripID, ownerID uint, title, description *string) (*model.Trip, error)
	AddPhotos(ctx context.Context, tripID, ownerID uint, files []SourceFile, onProgress ProgressFunc) (*AddPhotosResult, error)
	RetryFailedUploads(ctx context.Context, tripID, ownerID uint, batchID string, onProgress ProgressFunc) (*BatchResult, error)
	Publish(ctx context.Context, tripID, ownerID uint) (*model.Trip, error)
	// SetProtection 开启保护时若未提供明文令牌则生成一个新令牌；
	// 返回的明文只在此刻可见，服务端仅保存哈希。
	SetProtection(ctx context.Context, tripID, ownerID uint, gated bool, plainToken string) (string, error)
	RegenerateToken(ctx context.Context, tripID, ownerID uint) (string, error)
	GetBySlug(ctx context.Context, slug, plainToken string) (*TripView, error)
	ListPublished(ctx context.Context) ([]model.Trip, error)
	Delete(ctx context.Context, tripID, ownerID uint) error
}

type tripService struct {
	tripRepo  repository.TripRepository
	photoRepo repository.PhotoRepository
	uploadSvc UploadService
	store     storage.ObjectStore
	producer  kafka.EventProducer // 可为 nil（测试场景）
	maxEdge   int
	quality   int
}

// NewTripService 创建一个新的 TripService 实例。
func NewTripService(tripRepo repository.TripRepository, photoRepo repository.PhotoRepository, uploadSvc UploadService, store storage.ObjectStore, producer kafka.EventProducer, maxEdge, quality int) TripService {
	if maxEdge <= 0 {
		maxEdge = imaging.DefaultMaxEdge
	}
	if quality <= 0 || quality > 100 {
		quality = imaging.DefaultQuality
	}
	return &tripService{
		tripRepo:  tripRepo,
		photoRepo: photoRepo,
		uploadSvc: uploadSvc,
		store:     store,
		producer:  producer,
		maxEdge:   maxEdge,
		quality:   quality,
	}
}

// Create 创建一个草稿状态、公开模式、无封面的行程。
func (s *tripService) Create(ctx context.Context, ownerID uint, title, description string) (*model.Trip, error) {
	trip := &model.Trip{
		Slug:        generateSlug(title),
		Title:       title,
		Description: description,
		Status:      model.TripStatusDraft,
		OwnerID:     ownerID,
	}
	if err := s.tripRepo.Create(trip); err != nil {
		log.Error("[Create] 创建行程失败", err)
		return nil, err
	}
	log.Infof("[Create] 行程创建成功, ID: %d, slug: %s", trip.ID, trip.Slug)
	return trip, nil
}

// Update 更新行程的标题/描述。
func (s *tripService) Update(ctx context.Context, tripID, ownerID uint, title, description *string) (*model.Trip, error) {
	trip, err := s.ownedTrip(tripID, ownerID)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if title != nil && *title != "" {
		fields["title"] = *title
	}
	if description != nil {
		fields["description"] = *description
	}
	if len(fields) == 0 {
		return trip, nil
	}
	if err := s.tripRepo.UpdateFields(trip.ID, fields); err != nil {
		return nil, err
	}
	return s.tripRepo.FindByID(trip.ID)
}

// AddPhotos 在草稿行程上执行完整的照片流水线：并发提取元数据、
// 串行归一化、按下标顺序上传。候选封面重新计算但不落库。
func (s *tripService) AddPhotos(ctx context.Context, tripID, ownerID uint, files []SourceFile, onProgress ProgressFunc) (*AddPhotosResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	trip, err := s.ownedTrip(tripID, ownerID)
	if err != nil {
		return nil, err
	}
	if !trip.IsDraft() {
		return nil, ErrTripNotDraft
	}

	// 1. 并发提取元数据（文件之间互不依赖）
	blobs := make([][]byte, len(files))
	for i, f := range files {
		blobs[i] = f.Data
	}
	metaResults := exif.ExtractAll(blobs)
	for i, r := range metaResults {
		if r.Fallback {
			log.Warnf("[AddPhotos] 元数据提取降级为默认值。文件: %s, 原因: %s", files[i].Name, r.Reason)
		}
	}

	// 2. 串行归一化（解码/变换占用内存大，一次只处理一张）
	inputs := make([]imaging.Input, len(files))
	for i, f := range files {
		inputs[i] = imaging.Input{
			Name:        f.Name,
			Data:        f.Data,
			ContentType: f.ContentType,
			Orientation: metaResults[i].Meta.Orientation,
		}
	}
	resized := imaging.ResizeAll(inputs, imaging.Options{MaxEdge: s.maxEdge, Quality: s.quality})
	for i, r := range resized {
		if r.Fallback {
			log.Warnf("[AddPhotos] 图片归一化降级，按原文件上传。文件: %s, 原因: %s", files[i].Name, r.Reason)
		}
	}

	// 3. 批量上传
	count, err := s.photoRepo.CountByTrip(trip.ID)
	if err != nil {
		return nil, err
	}
	batchTasks := make([]UploadTask, len(files))
	for i := range files {
		batchTasks[i] = UploadTask{
			FileName: files[i].Name,
			File:     resized[i].File,
			Meta:     metaResults[i].Meta,
		}
	}
	batch := s.uploadSvc.UploadBatch(ctx, trip, batchTasks, int(count), onProgress)

	// 4. 重新计算候选封面：第一张带完整坐标的照片，否则第一张
	photos, err := s.photoRepo.ListByTrip(trip.ID)
	if err != nil {
		log.Error("[AddPhotos] 重新计算候选封面时读取照片失败", err)
		photos = nil
	}
	return &AddPhotosResult{
		BatchID:          batch.BatchID,
		Results:          batch.Results,
		Errors:           batch.Errors,
		CoverCandidateID: chooseCover(photos),
	}, nil
}

// RetryFailedUploads 重试一个批次中上次失败的文件。与 AddPhotos
// 一致只允许在草稿上执行：发布之前创建的批次不能在发布后继续追加照片。
func (s *tripService) RetryFailedUploads(ctx context.Context, tripID, ownerID uint, batchID string, onProgress ProgressFunc) (*BatchResult, error) {
	trip, err := s.ownedTrip(tripID, ownerID)
	if err != nil {
		return nil, err
	}
	if !trip.IsDraft() {
		return nil, ErrTripNotDraft
	}
	return s.uploadSvc.RetryFailedUploads(ctx, trip, batchID, onProgress)
}

// Publish 把草稿行程置为已发布并提交最终封面。远端写入失败时
// 状态保持不变，错误原样上抛交由用户重试。
func (s *tripService) Publish(ctx context.Context, tripID, ownerID uint) (*model.Trip, error) {
	trip, err := s.ownedTrip(tripID, ownerID)
	if err != nil {
		return nil, err
	}
	if !trip.IsDraft() {
		return nil, ErrTripAlreadyPublished
	}

	photos, err := s.photoRepo.ListByTrip(trip.ID)
	if err != nil {
		return nil, err
	}
	cover := chooseCover(photos)

	now := time.Now()
	fields := map[string]interface{}{
		"status":       model.TripStatusPublished,
		"published_at": now,
	}
	if cover != nil {
		fields["cover_id"] = *cover
	}
	if err := s.tripRepo.UpdateFields(trip.ID, fields); err != nil {
		log.Error("[Publish] 发布行程的远端写入失败，状态保持草稿", err)
		return nil, err
	}

	trip.Status = model.TripStatusPublished
	trip.CoverID = cover
	trip.PublishedAt = &now
	log.Infof("[Publish] 行程发布成功, ID: %d, slug: %s, 照片数: %d", trip.ID, trip.Slug, len(photos))

	if s.producer != nil {
		event := tasks.TripPublishedEvent{
			TripID:     trip.ID,
			Slug:       trip.Slug,
			Title:      trip.Title,
			PhotoCount: len(photos),
			Protected:  trip.Protected,
		}
		if err := s.producer.ProduceTripPublished(ctx, event); err != nil {
			log.Warnf("[Publish] 发送行程发布事件到 Kafka 失败, tripID: %d, error: %v", trip.ID, err)
		}
	}
	return trip, nil
}

// SetProtection 切换行程的保护模式。开启保护时持久化令牌哈希，
// 关闭时清除；该操作不影响草稿/发布轴。
func (s *tripService) SetProtection(ctx context.Context, tripID, ownerID uint, gated bool, plainToken string) (string, error) {
	trip, err := s.ownedTrip(tripID, ownerID)
	if err != nil {
		return "", err
	}

	if !gated {
		fields := map[string]interface{}{"protected": false, "token_hash": ""}
		if err := s.tripRepo.UpdateFields(trip.ID, fields); err != nil {
			return "", err
		}
		log.Infof("[SetProtection] 行程已切换为公开, ID: %d", trip.ID)
		return "", nil
	}

	if plainToken == "" {
		plainToken = token.GenerateShareToken()
	}
	hash, err := token.HashShareToken(plainToken)
	if err != nil {
		return "", fmt.Errorf("计算令牌哈希失败: %w", err)
	}
	// 只保留最新令牌的哈希：写入的瞬间旧令牌即失效
	fields := map[string]interface{}{"protected": true, "token_hash": hash}
	if err := s.tripRepo.UpdateFields(trip.ID, fields); err != nil {
		return "", err
	}
	log.Infof("[SetProtection] 行程已切换为令牌保护, ID: %d", trip.ID)
	return plainToken, nil
}

// RegenerateToken 生成新令牌并原子替换哈希，旧明文立即失效。
func (s *tripService) RegenerateToken(ctx context.Context, tripID, ownerID uint) (string, error) {
	return s.SetProtection(ctx, tripID, ownerID, true, token.GenerateShareToken())
}

// GetBySlug 处理公开读取路径。草稿行程表现为不存在；受保护行程
// 在令牌不匹配时返回可区分的未授权错误。
func (s *tripService) GetBySlug(ctx context.Context, slug, plainToken string) (*TripView, error) {
	trip, err := s.tripRepo.FindBySlug(slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	if trip.IsDraft() {
		return nil, ErrTripNotFound
	}
	if trip.Protected {
		if plainToken == "" || !token.CheckShareToken(trip.TokenHash, plainToken) {
			return nil, ErrTripUnauthorized
		}
	}

	photos, err := s.photoRepo.ListByTrip(trip.ID)
	if err != nil {
		return nil, err
	}
	return &TripView{Trip: *trip, Photos: photos}, nil
}

// ListPublished 返回所有已发布的行程。
func (s *tripService) ListPublished(ctx context.Context) ([]model.Trip, error) {
	return s.tripRepo.ListPublished()
}

// Delete 删除行程及其照片。对象清理是尽力而为的，记录删除是
// 行程回到不可见状态的唯一路径。
func (s *tripService) Delete(ctx context.Context, tripID, ownerID uint) error {
	trip, err := s.ownedTrip(tripID, ownerID)
	if err != nil {
		return err
	}

	photos, err := s.photoRepo.ListByTrip(trip.ID)
	if err != nil {
		return err
	}
	for _, p := range photos {
		if err := s.store.Remove(ctx, p.StorageKey); err != nil {
			log.Warnf("[Delete] 清理照片对象失败: %s, error: %v", p.StorageKey, err)
		}
		if err := s.store.Remove(ctx, p.ThumbKey); err != nil {
			log.Warnf("[Delete] 清理缩略图对象失败: %s, error: %v", p.ThumbKey, err)
		}
	}
	if err := s.photoRepo.DeleteByTrip(trip.ID); err != nil {
		return err
	}
	if err := s.tripRepo.Delete(trip.ID); err != nil {
		return err
	}
	log.Infof("[Delete] 行程已删除, ID: %d", trip.ID)
	return nil
}

// ownedTrip 读取行程并校验归属。
func (s *tripService) ownedTrip(tripID, ownerID uint) (*model.Trip, error) {
	trip, err := s.tripRepo.FindByID(tripID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	if trip.OwnerID != ownerID {
		return nil, ErrNotTripOwner
	}
	return trip, nil
}

// chooseCover 选择候选封面：第一张带完整坐标的照片，否则第一张。
func chooseCover(photos []model.Photo) *uint {
	if len(photos) == 0 {
		return nil
	}
	for i := range photos {
		if photos[i].HasCoordinates() {
			id := photos[i].ID
			return &id
		}
	}
	id := photos[0].ID
	return &id
}

// maxSlugBase 限制 slug 中由标题派生的部分。加上 9 字节的随机后缀
// 后仍在 slug 列 varchar(120) 的范围内。
const maxSlugBase = 100

// generateSlug 由标题派生 slug，并追加短随机后缀保证唯一。
func generateSlug(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := b.String()
	// 派生部分是纯 ASCII，按字节截断是安全的
	if len(slug) > maxSlugBase {
		slug = slug[:maxSlugBase]
	}
	slug = strings.Trim(slug, "-")
	suffix := strings.Split(uuid.NewString(), "-")[0]
	if slug == "" {
		return suffix
	}
	return slug + "-" + suffix
}
