package service

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/joeczar/vacay-photo-map-sub003/internal/model"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/tasks"
	"gorm.io/gorm"
)

// fakeStore 是内存版的对象存储，putHook 可按对象名/内容注入失败。
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []putRecord
	putHook func(objectName string, data []byte) error
}

type putRecord struct {
	name string
	data []byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	// 完整读取缓冲以驱动进度回调，与真实客户端的行为一致
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, putRecord{name: objectName, data: data})
	if f.putHook != nil {
		if err := f.putHook(objectName, data); err != nil {
			return err
		}
	}
	f.objects[objectName] = data
	return nil
}

func (f *fakeStore) Remove(ctx context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	return nil
}

func (f *fakeStore) PublicURL(objectName string) string {
	return "http://cdn.test/photos/" + objectName
}

func (f *fakeStore) setPutHook(hook func(objectName string, data []byte) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putHook = hook
}

func (f *fakeStore) objectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// fakePhotoRepo 是内存版的照片仓储。
type fakePhotoRepo struct {
	mu        sync.Mutex
	nextID    uint
	photos    []model.Photo
	createErr func(*model.Photo) error
}

func newFakePhotoRepo() *fakePhotoRepo {
	return &fakePhotoRepo{}
}

func (f *fakePhotoRepo) Create(photo *model.Photo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		if err := f.createErr(photo); err != nil {
			return err
		}
	}
	f.nextID++
	photo.ID = f.nextID
	f.photos = append(f.photos, *photo)
	return nil
}

func (f *fakePhotoRepo) ListByTrip(tripID uint) ([]model.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Photo
	for _, p := range f.photos {
		if p.TripID == tripID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakePhotoRepo) CountByTrip(tripID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, p := range f.photos {
		if p.TripID == tripID {
			count++
		}
	}
	return count, nil
}

func (f *fakePhotoRepo) DeleteByTrip(tripID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.photos[:0]
	for _, p := range f.photos {
		if p.TripID != tripID {
			kept = append(kept, p)
		}
	}
	f.photos = kept
	return nil
}

// fakeTripRepo 是内存版的行程仓储，updateErr 可模拟远端写入失败。
type fakeTripRepo struct {
	mu        sync.Mutex
	nextID    uint
	trips     map[uint]model.Trip
	updateErr error
}

func newFakeTripRepo() *fakeTripRepo {
	return &fakeTripRepo{trips: make(map[uint]model.Trip)}
}

func (f *fakeTripRepo) Create(trip *model.Trip) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	trip.ID = f.nextID
	f.trips[trip.ID] = *trip
	return nil
}

func (f *fakeTripRepo) FindByID(id uint) (*model.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trip, ok := f.trips[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &trip, nil
}

func (f *fakeTripRepo) FindBySlug(slug string) (*model.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, trip := range f.trips {
		if trip.Slug == slug {
			trip := trip
			return &trip, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTripRepo) ListPublished() ([]model.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Trip
	for _, trip := range f.trips {
		if trip.Status == model.TripStatusPublished {
			out = append(out, trip)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].PublishedAt, out[j].PublishedAt
		if ti == nil || tj == nil {
			return tj == nil
		}
		return ti.After(*tj)
	})
	return out, nil
}

func (f *fakeTripRepo) UpdateFields(id uint, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	trip, ok := f.trips[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for key, value := range fields {
		switch key {
		case "title":
			trip.Title = value.(string)
		case "description":
			trip.Description = value.(string)
		case "status":
			trip.Status = value.(string)
		case "published_at":
			t := value.(time.Time)
			trip.PublishedAt = &t
		case "cover_id":
			id := value.(uint)
			trip.CoverID = &id
		case "protected":
			trip.Protected = value.(bool)
		case "token_hash":
			trip.TokenHash = value.(string)
		}
	}
	f.trips[id] = trip
	return nil
}

func (f *fakeTripRepo) Delete(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.trips, id)
	return nil
}

// fakeProducer 记录发出的事件。
type fakeProducer struct {
	mu          sync.Mutex
	photoEvents []tasks.PhotoProcessedEvent
	tripEvents  []tasks.TripPublishedEvent
}

func (f *fakeProducer) ProducePhotoProcessed(ctx context.Context, event tasks.PhotoProcessedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photoEvents = append(f.photoEvents, event)
	return nil
}

func (f *fakeProducer) ProduceTripPublished(ctx context.Context, event tasks.TripPublishedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tripEvents = append(f.tripEvents, event)
	return nil
}
