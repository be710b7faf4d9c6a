package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/joeczar/vacay-photo-map-sub003/internal/model"
	"github.com/joeczar/vacay-photo-map-sub003/internal/repository"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/exif"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/imaging"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/kafka"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/storage"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/tasks"
)

// ProgressFunc 是单文件进度回调：(批次内下标, 百分比)。
type ProgressFunc func(index, percent int)

// UploadResult 是单个文件上传成功后的远端引用。
type UploadResult struct {
	PhotoID      uint   `json:"photoId"`
	StorageKey   string `json:"storageKey"`
	PublicURL    string `json:"publicUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// UploadError 记录批次中单个文件的失败。
type UploadError struct {
	Index    int    `json:"index"`
	FileName string `json:"fileName"`
	Message  string `json:"error"`
}

// UploadTask 是批次中一个文件的完整任务状态。Index 在批次生命周期内
// （包括重试）稳定且唯一；File 持有已归一化的缓冲，重试时直接复用。
type UploadTask struct {
	Index    int                    `json:"index"`
	FileName string                 `json:"fileName"`
	Position int                    `json:"position"`
	File     imaging.NormalizedFile `json:"-"`
	Meta     exif.Metadata          `json:"-"`
	State    string                 `json:"state"`
	Result   *UploadResult          `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// BatchResult 是一次批量上传（或重试）的结构化结果。
// Results[i] 非 nil 当且仅当文件 i 已成功；Errors 中每个失败下标
// 恰好出现一次。
type BatchResult struct {
	BatchID string         `json:"batchId"`
	Results []*UploadResult `json:"results"`
	Errors  []UploadError  `json:"errors"`
	Tasks   []UploadTask   `json:"tasks"`
}

// UploadService 接口定义了照片批量上传的编排操作。
type UploadService interface {
	// UploadBatch 按下标顺序逐个上传批次中的文件。单个文件失败
	// 不会中断兄弟文件；每个成功的文件在继续下一个之前已经持久化。
	UploadBatch(ctx context.Context, trip *model.Trip, batchTasks []UploadTask, basePosition int, onProgress ProgressFunc) *BatchResult

	// RetryFailedUploads 只重试上一次错误列表中的下标，成功的文件
	// 原样保留不会被重新上传。是否再次重试由调用方决定。
	RetryFailedUploads(ctx context.Context, trip *model.Trip, batchID string, onProgress ProgressFunc) (*BatchResult, error)
}

type uploadService struct {
	store     storage.ObjectStore
	photoRepo repository.PhotoRepository
	producer  kafka.EventProducer // 可为 nil（测试场景）
	tracker   *ProgressTracker
	thumbEdge int
	quality   int
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(store storage.ObjectStore, photoRepo repository.PhotoRepository, producer kafka.EventProducer, tracker *ProgressTracker, thumbEdge, quality int) UploadService {
	if thumbEdge <= 0 {
		thumbEdge = 320
	}
	if quality <= 0 || quality > 100 {
		quality = imaging.DefaultQuality
	}
	return &uploadService{
		store:     store,
		photoRepo: photoRepo,
		producer:  producer,
		tracker:   tracker,
		thumbEdge: thumbEdge,
		quality:   quality,
	}
}

// UploadBatch 编排一个批次的上传。
func (s *uploadService) UploadBatch(ctx context.Context, trip *model.Trip, batchTasks []UploadTask, basePosition int, onProgress ProgressFunc) *BatchResult {
	names := make([]string, len(batchTasks))
	for i := range batchTasks {
		batchTasks[i].Index = i
		batchTasks[i].Position = basePosition + i
		batchTasks[i].State = TaskStatePending
		names[i] = batchTasks[i].FileName
	}
	batchID := s.tracker.Start(trip.ID, trip.OwnerID, names)
	log.Infof("[UploadBatch] 开始批量上传，行程ID: %d, 批次ID: %s, 文件数: %d", trip.ID, batchID, len(batchTasks))

	var errs []UploadError
	for i := range batchTasks {
		task := &batchTasks[i]
		s.tracker.Update(ctx, batchID, task.Index, 0, TaskStateUploading)

		result, err := s.uploadOne(ctx, trip, task, batchID, onProgress)
		if err != nil {
			log.Warnf("[UploadBatch] 文件上传失败，继续处理剩余文件。文件: %s, 下标: %d, error: %v", task.FileName, task.Index, err)
			task.State = TaskStateFailed
			task.Error = err.Error()
			task.Result = nil
			errs = append(errs, UploadError{Index: task.Index, FileName: task.FileName, Message: err.Error()})
			s.tracker.Update(ctx, batchID, task.Index, 100, TaskStateFailed)
			continue
		}

		task.State = TaskStateSucceeded
		task.Result = result
		task.Error = ""
		s.tracker.Update(ctx, batchID, task.Index, 100, TaskStateSucceeded)
	}

	s.tracker.Finish(ctx, batchID, batchTasks, errs)
	log.Infof("[UploadBatch] 批量上传结束，批次ID: %s, 成功: %d, 失败: %d", batchID, len(batchTasks)-len(errs), len(errs))

	return buildBatchResult(batchID, batchTasks, errs)
}

// RetryFailedUploads 重试批次中上一次失败的文件。
func (s *uploadService) RetryFailedUploads(ctx context.Context, trip *model.Trip, batchID string, onProgress ProgressFunc) (*BatchResult, error) {
	tripID, _, retryTasks, priorErrs, ok := s.tracker.Session(batchID)
	if !ok || tripID != trip.ID {
		return nil, ErrBatchNotFound
	}
	log.Infof("[RetryFailedUploads] 开始重试，批次ID: %s, 待重试文件数: %d", batchID, len(priorErrs))

	if len(priorErrs) == 0 {
		return buildBatchResult(batchID, retryTasks, nil), nil
	}

	indices := make([]int, 0, len(priorErrs))
	for _, e := range priorErrs {
		indices = append(indices, e.Index)
	}
	s.tracker.BeginRetry(batchID, indices)

	var errs []UploadError
	for _, prior := range priorErrs {
		if prior.Index < 0 || prior.Index >= len(retryTasks) {
			continue
		}
		task := &retryTasks[prior.Index]
		s.tracker.Update(ctx, batchID, task.Index, 0, TaskStateUploading)

		// 重试复用已归一化的缓冲，不会重新压缩；每个成功的文件
		// 在循环继续之前就已经入库，中途放弃也不会丢失。
		result, err := s.uploadOne(ctx, trip, task, batchID, onProgress)
		if err != nil {
			log.Warnf("[RetryFailedUploads] 重试仍然失败。文件: %s, 下标: %d, error: %v", task.FileName, task.Index, err)
			task.State = TaskStateFailed
			task.Error = err.Error()
			errs = append(errs, UploadError{Index: task.Index, FileName: task.FileName, Message: err.Error()})
			s.tracker.Update(ctx, batchID, task.Index, 100, TaskStateFailed)
			continue
		}

		task.State = TaskStateSucceeded
		task.Result = result
		task.Error = ""
		s.tracker.Update(ctx, batchID, task.Index, 100, TaskStateSucceeded)
	}

	s.tracker.Finish(ctx, batchID, retryTasks, errs)
	log.Infof("[RetryFailedUploads] 重试结束，批次ID: %s, 仍失败: %d", batchID, len(errs))

	return buildBatchResult(batchID, retryTasks, errs), nil
}

// uploadOne 上传单个文件：先写归一化对象和缩略图，两者都成功后才
// 创建照片记录。任何一步失败都会清理已写入的对象，保证不会出现
// “有记录无对象”或“有对象无记录”的悬挂状态。
func (s *uploadService) uploadOne(ctx context.Context, trip *model.Trip, task *UploadTask, batchID string, onProgress ProgressFunc) (*UploadResult, error) {
	ext := path.Ext(task.File.Name)
	if ext == "" {
		ext = ".jpg"
	}
	objectID := uuid.NewString()
	storageKey := fmt.Sprintf("trips/%d/%s%s", trip.ID, objectID, ext)
	thumbKey := fmt.Sprintf("trips/%d/thumbs/%s%s", trip.ID, objectID, ext)

	reader := &countingReader{
		reader: bytes.NewReader(task.File.Data),
		total:  int64(len(task.File.Data)),
		report: func(percent int) {
			s.tracker.Update(ctx, batchID, task.Index, percent, TaskStateUploading)
			if onProgress != nil {
				onProgress(task.Index, percent)
			}
		},
	}
	if err := s.store.Put(ctx, storageKey, reader, int64(len(task.File.Data)), task.File.ContentType); err != nil {
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}

	thumb := imaging.Resize(imaging.Input{
		Name:        task.File.Name,
		Data:        task.File.Data,
		ContentType: task.File.ContentType,
		Orientation: 1, // 归一化文件的方向已归位
	}, imaging.Options{MaxEdge: s.thumbEdge, Quality: s.quality})
	if thumb.Fallback {
		log.Warnf("[uploadOne] 缩略图生成降级，使用原始缓冲。文件: %s, 原因: %s", task.FileName, thumb.Reason)
	}
	if err := s.store.Put(ctx, thumbKey, bytes.NewReader(thumb.File.Data), int64(len(thumb.File.Data)), thumb.File.ContentType); err != nil {
		s.removeQuiet(ctx, storageKey)
		return nil, fmt.Errorf("写入缩略图失败: %w", err)
	}

	photo := &model.Photo{
		TripID:       trip.ID,
		Position:     task.Position,
		FileName:     task.FileName,
		StorageKey:   storageKey,
		ThumbKey:     thumbKey,
		PublicURL:    s.store.PublicURL(storageKey),
		ThumbnailURL: s.store.PublicURL(thumbKey),
		Latitude:     task.Meta.Latitude,
		Longitude:    task.Meta.Longitude,
		TakenAt:      task.Meta.TakenAt,
		CameraMake:   task.Meta.CameraMake,
		CameraModel:  task.Meta.CameraModel,
		Width:        task.File.Width,
		Height:       task.File.Height,
	}
	if err := s.photoRepo.Create(photo); err != nil {
		s.removeQuiet(ctx, storageKey)
		s.removeQuiet(ctx, thumbKey)
		return nil, fmt.Errorf("创建照片记录失败: %w", err)
	}

	if s.producer != nil {
		event := tasks.PhotoProcessedEvent{
			TripID:       trip.ID,
			PhotoID:      photo.ID,
			StorageKey:   storageKey,
			PublicURL:    photo.PublicURL,
			ThumbnailURL: photo.ThumbnailURL,
			Latitude:     photo.Latitude,
			Longitude:    photo.Longitude,
			TakenAt:      photo.TakenAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := s.producer.ProducePhotoProcessed(ctx, event); err != nil {
			log.Warnf("[uploadOne] 发送照片处理事件到 Kafka 失败, photoID: %d, error: %v", photo.ID, err)
		}
	}

	return &UploadResult{
		PhotoID:      photo.ID,
		StorageKey:   storageKey,
		PublicURL:    photo.PublicURL,
		ThumbnailURL: photo.ThumbnailURL,
	}, nil
}

// removeQuiet 尽力删除对象，失败只记日志。
func (s *uploadService) removeQuiet(ctx context.Context, key string) {
	if err := s.store.Remove(ctx, key); err != nil {
		log.Warnf("[uploadOne] 清理对象失败: %s, error: %v", key, err)
	}
}

// buildBatchResult 从任务状态构造结构化批次结果。
func buildBatchResult(batchID string, batchTasks []UploadTask, errs []UploadError) *BatchResult {
	results := make([]*UploadResult, len(batchTasks))
	for i := range batchTasks {
		if batchTasks[i].State == TaskStateSucceeded {
			results[i] = batchTasks[i].Result
		}
	}
	if errs == nil {
		errs = []UploadError{}
	}
	return &BatchResult{
		BatchID: batchID,
		Results: results,
		Errors:  errs,
		Tasks:   batchTasks,
	}
}

// countingReader 包装一个 Reader，按读取字节数回报传输百分比。
// minio 客户端分块读取缓冲，进度回调因此穿插在单个文件的传输过程中。
type countingReader struct {
	reader io.Reader
	total  int64
	read   int64
	last   int
	report func(percent int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.read += int64(n)
	if c.total > 0 {
		percent := int(c.read * 100 / c.total)
		if percent > c.last {
			c.last = percent
			c.report(percent)
		}
	}
	return n, err
}
