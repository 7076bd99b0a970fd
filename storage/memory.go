package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data []byte
	info ObjectInfo
}

// MemoryStore 进程内存储，用于测试和本地开发
type MemoryStore struct {
	mu        sync.RWMutex
	objects   map[string]memoryObject
	publicURL string
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(publicURL string) *MemoryStore {
	return &MemoryStore{
		objects:   make(map[string]memoryObject),
		publicURL: publicURL,
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, fmt.Errorf("read object %s: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return Object{}, fmt.Errorf("object %s: size mismatch, declared %d, read %d", key, size, len(data))
	}

	meta := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	sum := md5.Sum(data)

	s.mu.Lock()
	s.objects[key] = memoryObject{
		data: data,
		info: ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			LastModified: time.Now(),
			ContentType:  opts.ContentType,
			ETag:         hex.EncodeToString(sum[:]),
			Metadata:     meta,
		},
	}
	s.mu.Unlock()

	return Object{Key: key, URL: s.PublicURL(key), Size: int64(len(data))}, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}

	size := int64(len(obj.data))
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("object %s: offset %d out of range", key, offset)
	}
	end := size
	if length >= 0 && offset+length < size {
		end = offset + length
	}
	return io.NopCloser(bytes.NewReader(obj.data[offset:end])), nil
}

func (s *MemoryStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return obj.info, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var objects []ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, obj.info)
		}
	}
	s.mu.RUnlock()

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Delete 与 S3 一致，删除不存在的对象不报错
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PublicURL(key string) string {
	return publicURL(s.publicURL, key)
}
