package storage

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"path"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"
)

const ThumbnailWidth = 400

var (
	ErrFileTooLarge    = errors.New("file exceeds the upload size limit")
	ErrUnsupportedType = errors.New("only JPEG, PNG, GIF and WebP images are accepted")
	ErrEmptyFile       = errors.New("uploaded file is empty")
)

var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Upload describes a stored image and its optional thumbnail.
type Upload struct {
	Key          string
	ThumbnailKey string
	ContentType  string
	Size         int64
}

type UploadOptions struct {
	Dir       string
	MaxBytes  int64
	Thumbnail bool
}

// SaveImage validates an uploaded image by content, stores it under a
// random name in opts.Dir and optionally stores a JPEG thumbnail next to it.
func SaveImage(ctx context.Context, st Storage, fh *multipart.FileHeader, opts UploadOptions) (*Upload, error) {
	if opts.MaxBytes > 0 && fh.Size > opts.MaxBytes {
		return nil, ErrFileTooLarge
	}

	src, err := fh.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open uploaded file")
	}
	defer src.Close()

	return SaveImageData(ctx, st, src, opts)
}

func SaveImageData(ctx context.Context, st Storage, r io.Reader, opts UploadOptions) (*Upload, error) {
	limit := opts.MaxBytes
	if limit <= 0 {
		limit = 32 << 20
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "read uploaded file")
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > limit {
		return nil, ErrFileTooLarge
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExt[contentType]
	if !ok {
		return nil, ErrUnsupportedType
	}

	id := uuid.NewString()
	up := &Upload{
		Key:         path.Join(opts.Dir, id+ext),
		ContentType: contentType,
		Size:        int64(len(data)),
	}

	if opts.Thumbnail {
		thumb, err := Thumbnail(data)
		if err != nil {
			return nil, errors.WithMessage(ErrUnsupportedType, err.Error())
		}
		up.ThumbnailKey = path.Join(opts.Dir, "thumb_"+id+".jpg")
		if err := st.Save(ctx, up.ThumbnailKey, thumb, "image/jpeg"); err != nil {
			return nil, err
		}
	}

	if err := st.Save(ctx, up.Key, data, contentType); err != nil {
		if up.ThumbnailKey != "" {
			_ = st.Delete(ctx, up.ThumbnailKey)
		}
		return nil, err
	}

	return up, nil
}

// Thumbnail scales an image down to ThumbnailWidth and encodes it as JPEG.
// Smaller images keep their size.
func Thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}

	if img.Bounds().Dx() > ThumbnailWidth {
		img = imaging.Resize(img, ThumbnailWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, errors.Wrap(err, "encode thumbnail")
	}
	return buf.Bytes(), nil
}

// Remove archives and then deletes each key, collecting failures.
func Remove(ctx context.Context, st Storage, keys []string) (removed []string, failed map[string]error) {
	for _, key := range keys {
		if err := st.Archive(ctx, key); err != nil {
			if failed == nil {
				failed = map[string]error{}
			}
			failed[key] = err
			continue
		}
		if err := st.Delete(ctx, key); err != nil {
			if failed == nil {
				failed = map[string]error{}
			}
			failed[key] = err
			continue
		}
		removed = append(removed, key)
	}
	return removed, failed
}
