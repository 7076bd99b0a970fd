package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("https://cdn.example.com/")
	data := bytes.Repeat([]byte("ab"), 2500)

	obj, err := s.Put(ctx, "music/a.mp3", bytes.NewReader(data), int64(len(data)), PutOptions{
		ContentType: "audio/mpeg",
		Metadata:    map[string]string{"title": "A"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.URL != "https://cdn.example.com/music/a.mp3" || obj.Size != 5000 {
		t.Errorf("object = %+v", obj)
	}

	info, err := s.Stat(ctx, "music/a.mp3")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 5000 || info.ContentType != "audio/mpeg" || info.Metadata["title"] != "A" || info.ETag == "" {
		t.Errorf("info = %+v", info)
	}

	rc, err := s.Get(ctx, "music/a.mp3", 1000, 1000)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, data[1000:2000]) {
		t.Errorf("range read returned %d bytes", len(got))
	}

	rc, err = s.Get(ctx, "music/a.mp3", 4990, -1)
	if err != nil {
		t.Fatalf("Get tail: %v", err)
	}
	got, _ = io.ReadAll(rc)
	if len(got) != 10 {
		t.Errorf("tail read = %d bytes, want 10", len(got))
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")
	if _, err := s.Stat(ctx, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Stat err = %v", err)
	}
	if _, err := s.Get(ctx, "missing", 0, -1); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Get err = %v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete missing should be a no-op, got %v", err)
	}
}

func TestMemoryStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")
	for _, key := range []string{"music/b.mp3", "music/a.mp3", "other/c.txt"} {
		if _, err := s.Put(ctx, key, bytes.NewReader([]byte("x")), 1, PutOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	objects, err := s.List(ctx, "music/")
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 || objects[0].Key != "music/a.mp3" {
		t.Errorf("List = %+v", objects)
	}

	if err := s.Delete(ctx, "music/a.mp3"); err != nil {
		t.Fatal(err)
	}
	objects, _ = s.List(ctx, "")
	if len(objects) != 2 {
		t.Errorf("after delete = %+v", objects)
	}
}

func TestMemoryStoreRejectsShortBody(t *testing.T) {
	s := NewMemoryStore("")
	_, err := s.Put(context.Background(), "k", bytes.NewReader([]byte("abc")), 10, PutOptions{})
	if err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestPublicURLDefaultsToStreamingRoute(t *testing.T) {
	if got := NewMemoryStore("").PublicURL("music/x.mp3"); got != "/api/audio/music/x.mp3" {
		t.Errorf("PublicURL = %q", got)
	}
}

func TestSummarizeAndFormatSize(t *testing.T) {
	now := time.Now()
	stats := Summarize([]ObjectInfo{
		{Size: 1024, LastModified: now.Add(-time.Hour)},
		{Size: 2048, LastModified: now},
	})
	if stats.TotalObjects != 2 || stats.TotalSize != 3072 || !stats.LastModified.Equal(now) {
		t.Errorf("stats = %+v", stats)
	}

	tests := map[int64]string{
		512:             "512 B",
		1536:            "1.5 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for size, want := range tests {
		if got := FormatSize(size); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", size, got, want)
		}
	}
}
