package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/joeczar/vacay-photo-map-sub003/internal/model"
)

type tripFixture struct {
	trips    *fakeTripRepo
	photos   *fakePhotoRepo
	store    *fakeStore
	producer *fakeProducer
	svc      TripService
}

func newTripFixture() *tripFixture {
	trips := newFakeTripRepo()
	photos := newFakePhotoRepo()
	store := newFakeStore()
	producer := &fakeProducer{}
	tracker := NewProgressTracker(nil, time.Minute)
	uploadSvc := NewUploadService(store, photos, producer, tracker, 320, 85)
	return &tripFixture{
		trips:    trips,
		photos:   photos,
		store:    store,
		producer: producer,
		svc:      NewTripService(trips, photos, uploadSvc, store, producer, 1600, 85),
	}
}

const ownerID = 7

func (f *tripFixture) createTrip(t *testing.T) *model.Trip {
	t.Helper()
	trip, err := f.svc.Create(context.Background(), ownerID, "海边之旅", "七月的海岸线")
	if err != nil {
		t.Fatalf("创建行程失败: %v", err)
	}
	return trip
}

func (f *tripFixture) seedPhoto(t *testing.T, tripID uint, position int, lat, lng *float64) uint {
	t.Helper()
	photo := &model.Photo{
		TripID:    tripID,
		Position:  position,
		FileName:  "seed.jpg",
		TakenAt:   time.Now(),
		Latitude:  lat,
		Longitude: lng,
	}
	if err := f.photos.Create(photo); err != nil {
		t.Fatalf("写入照片失败: %v", err)
	}
	return photo.ID
}

func ptr(v float64) *float64 { return &v }

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("编码 PNG 失败: %v", err)
	}
	return buf.Bytes()
}

func TestCreateTrip(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)

	if !trip.IsDraft() {
		t.Errorf("新行程状态 %s，期望草稿", trip.Status)
	}
	if trip.Protected {
		t.Error("新行程默认应为公开")
	}
	if trip.CoverID != nil {
		t.Error("新行程不应有封面")
	}
	if trip.Slug == "" {
		t.Error("slug 不应为空")
	}
	if trip.OwnerID != ownerID {
		t.Errorf("归属 %d，期望 %d", trip.OwnerID, ownerID)
	}
}

func TestUpdateTrip(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)

	title := "山里之旅"
	updated, err := f.svc.Update(context.Background(), trip.ID, ownerID, &title, nil)
	if err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	if updated.Title != "山里之旅" {
		t.Errorf("标题 %q，期望已更新", updated.Title)
	}
	if updated.Description != "七月的海岸线" {
		t.Errorf("未提供的字段不应改变: %q", updated.Description)
	}

	if _, err := f.svc.Update(context.Background(), trip.ID, 999, &title, nil); !errors.Is(err, ErrNotTripOwner) {
		t.Fatalf("非归属者更新，期望 ErrNotTripOwner，得到: %v", err)
	}
	if _, err := f.svc.Update(context.Background(), 424242, ownerID, &title, nil); !errors.Is(err, ErrTripNotFound) {
		t.Fatalf("不存在的行程，期望 ErrTripNotFound，得到: %v", err)
	}
}

// AddPhotos 走完整流水线：提取元数据、归一化、上传、重算候选封面。
func TestAddPhotosPipeline(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)

	files := []SourceFile{
		{Name: "IMG_001.png", ContentType: "image/png", Data: makePNG(t, 2000, 1000)},
		{Name: "IMG_002.png", ContentType: "image/png", Data: makePNG(t, 100, 80)},
	}
	res, err := f.svc.AddPhotos(context.Background(), trip.ID, ownerID, files, nil)
	if err != nil {
		t.Fatalf("加图失败: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("不应有错误: %+v", res.Errors)
	}
	if res.BatchID == "" {
		t.Fatal("批次 ID 不应为空")
	}

	photos, _ := f.photos.ListByTrip(trip.ID)
	if len(photos) != 2 {
		t.Fatalf("照片数 %d，期望 2", len(photos))
	}
	// 第一张超界，最长边压缩到 1600；第二张在界内保持原尺寸
	if photos[0].Width != 1600 || photos[0].Height != 800 {
		t.Errorf("第一张尺寸 %dx%d，期望 1600x800", photos[0].Width, photos[0].Height)
	}
	if photos[1].Width != 100 || photos[1].Height != 80 {
		t.Errorf("第二张尺寸 %dx%d，期望 100x80", photos[1].Width, photos[1].Height)
	}
	// PNG 无 EXIF，元数据降级：时间戳回落为提取时刻，无坐标
	if photos[0].Latitude != nil || photos[0].TakenAt.IsZero() {
		t.Error("降级元数据不符")
	}
	// 无坐标照片时候选封面为第一张
	if res.CoverCandidateID == nil || *res.CoverCandidateID != photos[0].ID {
		t.Errorf("候选封面 %v，期望第一张 %d", res.CoverCandidateID, photos[0].ID)
	}
	// 候选封面不落库
	stored, _ := f.trips.FindByID(trip.ID)
	if stored.CoverID != nil {
		t.Error("发布前封面不应持久化")
	}

	// 追加批次从已有照片数继续分配位置
	more, err := f.svc.AddPhotos(context.Background(), trip.ID, ownerID, files[1:], nil)
	if err != nil {
		t.Fatalf("第二批加图失败: %v", err)
	}
	if len(more.Errors) != 0 {
		t.Fatalf("第二批不应有错误: %+v", more.Errors)
	}
	photos, _ = f.photos.ListByTrip(trip.ID)
	if len(photos) != 3 || photos[2].Position != 2 {
		t.Fatalf("追加位置分配错误: %d 张, 末位 position=%d", len(photos), photos[len(photos)-1].Position)
	}
}

func TestAddPhotosGuards(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)

	if _, err := f.svc.AddPhotos(context.Background(), trip.ID, ownerID, nil, nil); !errors.Is(err, ErrNoFiles) {
		t.Fatalf("空文件列表，期望 ErrNoFiles，得到: %v", err)
	}

	files := []SourceFile{{Name: "a.png", ContentType: "image/png", Data: makePNG(t, 10, 10)}}
	if _, err := f.svc.AddPhotos(context.Background(), trip.ID, 999, files, nil); !errors.Is(err, ErrNotTripOwner) {
		t.Fatalf("非归属者，期望 ErrNotTripOwner，得到: %v", err)
	}

	if _, err := f.svc.Publish(context.Background(), trip.ID, ownerID); err != nil {
		t.Fatalf("发布失败: %v", err)
	}
	if _, err := f.svc.AddPhotos(context.Background(), trip.ID, ownerID, files, nil); !errors.Is(err, ErrTripNotDraft) {
		t.Fatalf("已发布行程加图，期望 ErrTripNotDraft，得到: %v", err)
	}
}

// 发布之前创建的批次不能在发布后重试，发布后的行程照片集不可变。
func TestRetryFailedUploadsDraftOnly(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)

	files := []SourceFile{{Name: "a.png", ContentType: "image/png", Data: makePNG(t, 30, 20)}}
	res, err := f.svc.AddPhotos(context.Background(), trip.ID, ownerID, files, nil)
	if err != nil {
		t.Fatalf("加图失败: %v", err)
	}

	if _, err := f.svc.Publish(context.Background(), trip.ID, ownerID); err != nil {
		t.Fatalf("发布失败: %v", err)
	}
	if _, err := f.svc.RetryFailedUploads(context.Background(), trip.ID, ownerID, res.BatchID, nil); !errors.Is(err, ErrTripNotDraft) {
		t.Fatalf("发布后重试，期望 ErrTripNotDraft，得到: %v", err)
	}
}

func TestGenerateSlugBounded(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("beach-trip-", 40)
	slug := generateSlug(long)
	if len(slug) > 110 {
		t.Fatalf("slug 长度 %d 超出列宽预算", len(slug))
	}
	if strings.HasPrefix(slug, "-") || strings.Contains(slug, "--") {
		t.Fatalf("截断产生畸形 slug: %q", slug)
	}
	// 截断只影响派生部分，随机后缀仍保证唯一
	if slug == generateSlug(long) {
		t.Fatal("相同标题应生成不同 slug")
	}
}

// 发布提交最终封面：优先第一张带完整坐标的照片。
func TestPublishCommitsCover(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)
	f.seedPhoto(t, trip.ID, 0, nil, nil)
	geotagged := f.seedPhoto(t, trip.ID, 1, ptr(36.06), ptr(120.38))
	f.seedPhoto(t, trip.ID, 2, ptr(31.23), ptr(121.47))

	published, err := f.svc.Publish(context.Background(), trip.ID, ownerID)
	if err != nil {
		t.Fatalf("发布失败: %v", err)
	}
	if published.Status != model.TripStatusPublished {
		t.Errorf("状态 %s，期望已发布", published.Status)
	}
	if published.PublishedAt == nil {
		t.Error("发布时间不应为空")
	}
	if published.CoverID == nil || *published.CoverID != geotagged {
		t.Errorf("封面 %v，期望首张带坐标照片 %d", published.CoverID, geotagged)
	}

	stored, _ := f.trips.FindByID(trip.ID)
	if stored.Status != model.TripStatusPublished || stored.CoverID == nil {
		t.Error("发布结果未持久化")
	}

	if len(f.producer.tripEvents) != 1 {
		t.Fatalf("发布事件数 %d，期望 1", len(f.producer.tripEvents))
	}
	if event := f.producer.tripEvents[0]; event.TripID != trip.ID || event.PhotoCount != 3 {
		t.Errorf("发布事件不符: %+v", event)
	}

	// 发布不可逆，重复发布报错
	if _, err := f.svc.Publish(context.Background(), trip.ID, ownerID); !errors.Is(err, ErrTripAlreadyPublished) {
		t.Fatalf("重复发布，期望 ErrTripAlreadyPublished，得到: %v", err)
	}
}

// 远端写入失败时发布不生效，行程保持草稿可重试。
func TestPublishRemoteFailureKeepsDraft(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)
	f.seedPhoto(t, trip.ID, 0, nil, nil)

	f.trips.updateErr = errors.New("数据库连接中断")
	if _, err := f.svc.Publish(context.Background(), trip.ID, ownerID); err == nil {
		t.Fatal("远端失败时发布应报错")
	}

	f.trips.updateErr = nil
	stored, _ := f.trips.FindByID(trip.ID)
	if !stored.IsDraft() {
		t.Fatalf("失败的发布改变了状态: %s", stored.Status)
	}
	if len(f.producer.tripEvents) != 0 {
		t.Fatal("失败的发布不应发出事件")
	}

	// 可以直接重试
	if _, err := f.svc.Publish(context.Background(), trip.ID, ownerID); err != nil {
		t.Fatalf("重试发布失败: %v", err)
	}
}

// 轮换令牌后旧明文立即失效，新明文生效。
func TestProtectionTokenRotation(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)
	if _, err := f.svc.Publish(context.Background(), trip.ID, ownerID); err != nil {
		t.Fatalf("发布失败: %v", err)
	}

	tokenA, err := f.svc.SetProtection(context.Background(), trip.ID, ownerID, true, "")
	if err != nil {
		t.Fatalf("开启保护失败: %v", err)
	}
	if tokenA == "" {
		t.Fatal("开启保护应返回明文令牌")
	}
	if _, err := f.svc.GetBySlug(context.Background(), trip.Slug, tokenA); err != nil {
		t.Fatalf("持有效令牌访问失败: %v", err)
	}

	tokenB, err := f.svc.RegenerateToken(context.Background(), trip.ID, ownerID)
	if err != nil {
		t.Fatalf("轮换令牌失败: %v", err)
	}
	if tokenB == tokenA {
		t.Fatal("轮换应生成新令牌")
	}
	if _, err := f.svc.GetBySlug(context.Background(), trip.Slug, tokenA); !errors.Is(err, ErrTripUnauthorized) {
		t.Fatalf("旧令牌应失效，得到: %v", err)
	}
	if _, err := f.svc.GetBySlug(context.Background(), trip.Slug, tokenB); err != nil {
		t.Fatalf("新令牌访问失败: %v", err)
	}

	// 明文从不落库
	stored, _ := f.trips.FindByID(trip.ID)
	if stored.TokenHash == tokenB || stored.TokenHash == "" {
		t.Fatal("服务端应只保存令牌哈希")
	}

	// 关闭保护后无令牌即可访问
	if _, err := f.svc.SetProtection(context.Background(), trip.ID, ownerID, false, ""); err != nil {
		t.Fatalf("关闭保护失败: %v", err)
	}
	if _, err := f.svc.GetBySlug(context.Background(), trip.Slug, ""); err != nil {
		t.Fatalf("公开行程访问失败: %v", err)
	}
	stored, _ = f.trips.FindByID(trip.ID)
	if stored.Protected || stored.TokenHash != "" {
		t.Fatal("关闭保护应清除哈希")
	}
}

// 公开读取路径：草稿表现为不存在，令牌不匹配返回可区分的未授权。
func TestGetBySlugVisibility(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)

	if _, err := f.svc.GetBySlug(context.Background(), trip.Slug, ""); !errors.Is(err, ErrTripNotFound) {
		t.Fatalf("草稿应表现为不存在，得到: %v", err)
	}
	if _, err := f.svc.GetBySlug(context.Background(), "不存在的slug", ""); !errors.Is(err, ErrTripNotFound) {
		t.Fatalf("未知 slug，期望 ErrTripNotFound，得到: %v", err)
	}

	if _, err := f.svc.Publish(context.Background(), trip.ID, ownerID); err != nil {
		t.Fatalf("发布失败: %v", err)
	}
	f.seedPhoto(t, trip.ID, 0, nil, nil)

	view, err := f.svc.GetBySlug(context.Background(), trip.Slug, "")
	if err != nil {
		t.Fatalf("公开行程读取失败: %v", err)
	}
	if len(view.Photos) != 1 {
		t.Fatalf("视图照片数 %d，期望 1", len(view.Photos))
	}

	if _, err := f.svc.SetProtection(context.Background(), trip.ID, ownerID, true, ""); err != nil {
		t.Fatalf("开启保护失败: %v", err)
	}
	if _, err := f.svc.GetBySlug(context.Background(), trip.Slug, ""); !errors.Is(err, ErrTripUnauthorized) {
		t.Fatalf("缺少令牌，期望 ErrTripUnauthorized，得到: %v", err)
	}
	if _, err := f.svc.GetBySlug(context.Background(), trip.Slug, "错误令牌"); !errors.Is(err, ErrTripUnauthorized) {
		t.Fatalf("错误令牌，期望 ErrTripUnauthorized，得到: %v", err)
	}
}

func TestListPublishedHidesDrafts(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	draft := f.createTrip(t)
	published := f.createTrip(t)
	if _, err := f.svc.Publish(context.Background(), published.ID, ownerID); err != nil {
		t.Fatalf("发布失败: %v", err)
	}

	list, err := f.svc.ListPublished(context.Background())
	if err != nil {
		t.Fatalf("列表失败: %v", err)
	}
	if len(list) != 1 || list[0].ID != published.ID {
		t.Fatalf("列表不符: %+v", list)
	}
	for _, item := range list {
		if item.ID == draft.ID {
			t.Fatal("草稿不应出现在公开列表")
		}
	}
}

func TestDeleteTrip(t *testing.T) {
	t.Parallel()

	f := newTripFixture()
	trip := f.createTrip(t)

	files := []SourceFile{{Name: "a.png", ContentType: "image/png", Data: makePNG(t, 50, 40)}}
	if _, err := f.svc.AddPhotos(context.Background(), trip.ID, ownerID, files, nil); err != nil {
		t.Fatalf("加图失败: %v", err)
	}
	if f.store.objectCount() == 0 {
		t.Fatal("加图后应有存储对象")
	}

	if err := f.svc.Delete(context.Background(), trip.ID, 999); !errors.Is(err, ErrNotTripOwner) {
		t.Fatalf("非归属者删除，期望 ErrNotTripOwner，得到: %v", err)
	}
	if err := f.svc.Delete(context.Background(), trip.ID, ownerID); err != nil {
		t.Fatalf("删除失败: %v", err)
	}

	if f.store.objectCount() != 0 {
		t.Fatal("删除应清理存储对象")
	}
	if count, _ := f.photos.CountByTrip(trip.ID); count != 0 {
		t.Fatal("删除应清理照片记录")
	}
	if _, err := f.trips.FindByID(trip.ID); err == nil {
		t.Fatal("删除后的行程不应可查")
	}
}
