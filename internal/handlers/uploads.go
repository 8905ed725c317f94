package handlers

import (
	"context"

	"defect-tracker/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// saveUploads stores every image posted under field. If one fails, the ones
// already stored are removed again.
func saveUploads(c *gin.Context, field, dir string) ([]string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil
	}

	headers := form.File[field]
	keys := make([]string, 0, len(headers))
	for _, fh := range headers {
		up, err := storage.SaveImage(c.Request.Context(), files, fh, storage.UploadOptions{
			Dir:      dir,
			MaxBytes: maxUploadBytes,
		})
		if err != nil {
			discardUploads(c.Request.Context(), keys)
			return nil, errors.Wrapf(err, "%s", fh.Filename)
		}
		keys = append(keys, up.Key)
	}
	return keys, nil
}

// discardUploads deletes files stored for a write that did not commit.
func discardUploads(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := files.Delete(ctx, k); err != nil {
			componentLog("uploads").Warn("could not discard upload", zap.String("key", k), zap.Error(err))
		}
	}
}
