package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"defect-tracker/internal/config"

	"github.com/disintegration/imaging"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestSaveImageWithThumbnail(t *testing.T) {
	ctx := context.Background()
	st, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	up, err := SaveImageData(ctx, st, bytes.NewReader(pngBytes(t, 1200, 600)), UploadOptions{Dir: "floor_plans/7", MaxBytes: 5 << 20, Thumbnail: true})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(up.Key, "floor_plans/7/") || !strings.HasSuffix(up.Key, ".png") {
		t.Fatalf("unexpected key %q", up.Key)
	}
	if up.ContentType != "image/png" {
		t.Fatalf("content type = %s", up.ContentType)
	}
	if !st.Exists(ctx, up.Key) || !st.Exists(ctx, up.ThumbnailKey) {
		t.Fatalf("expected file and thumbnail on disk")
	}

	thumb, err := imaging.Open(filepath.Join(st.BasePath(), filepath.FromSlash(up.ThumbnailKey)))
	if err != nil {
		t.Fatalf("open thumbnail: %v", err)
	}
	if thumb.Bounds().Dx() != ThumbnailWidth || thumb.Bounds().Dy() != 200 {
		t.Fatalf("thumbnail is %v, want 400x200", thumb.Bounds().Size())
	}
}

func TestSaveImageRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	st, _ := NewLocalStorage(t.TempDir())

	if _, err := SaveImageData(ctx, st, strings.NewReader("%PDF-1.4 not an image"), UploadOptions{Dir: "x"}); err != ErrUnsupportedType {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := SaveImageData(ctx, st, bytes.NewReader(nil), UploadOptions{Dir: "x"}); err != ErrEmptyFile {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
	if _, err := SaveImageData(ctx, st, bytes.NewReader(pngBytes(t, 50, 50)), UploadOptions{Dir: "x", MaxBytes: 10}); err != ErrFileTooLarge {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestRemoveArchivesBeforeDeleting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, _ := NewLocalStorage(dir)

	if err := st.Save(ctx, "floor_plans/1/a.png", []byte("plan"), "image/png"); err != nil {
		t.Fatalf("save: %v", err)
	}

	removed, failed := Remove(ctx, st, []string{"floor_plans/1/a.png", "../escape.png"})
	if len(removed) != 1 || removed[0] != "floor_plans/1/a.png" {
		t.Fatalf("removed = %v", removed)
	}
	if _, ok := failed["../escape.png"]; !ok {
		t.Fatalf("escaping key must fail, got %v", failed)
	}
	if st.Exists(ctx, "floor_plans/1/a.png") {
		t.Fatalf("original should be gone")
	}

	archived, err := os.ReadFile(filepath.Join(dir, "backups", "floor_plans", "1", "a.png"))
	if err != nil || string(archived) != "plan" {
		t.Fatalf("archive missing or wrong: %q %v", archived, err)
	}
}

func TestCleanKey(t *testing.T) {
	for _, bad := range []string{"", "/etc/passwd", "..", "../x", "a/../../x"} {
		if _, err := cleanKey(bad); err == nil {
			t.Errorf("key %q should be rejected", bad)
		}
	}
	if k, err := cleanKey("floor_plans//2/./a.png"); err != nil || k != "floor_plans/2/a.png" {
		t.Fatalf("clean = %q, %v", k, err)
	}
}

func TestURLs(t *testing.T) {
	st, _ := NewLocalStorage(t.TempDir())
	if st.URL("defects/1/a.jpg") != "/uploads/defects/1/a.jpg" {
		t.Fatalf("local url = %s", st.URL("defects/1/a.jpg"))
	}

	s3, err := NewS3Storage(context.Background(), configWithBucket("plans", "https://cdn.example.com/"))
	if err != nil {
		t.Fatalf("s3: %v", err)
	}
	if s3.URL("defects/1/a.jpg") != "https://cdn.example.com/defects/1/a.jpg" {
		t.Fatalf("s3 url = %s", s3.URL("defects/1/a.jpg"))
	}
}

func configWithBucket(bucket, public string) config.StorageConfig {
	return config.StorageConfig{Driver: "s3", Bucket: bucket, Region: "auto", PublicURL: public}
}
