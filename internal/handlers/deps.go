package handlers

import (
	"defect-tracker/internal/logging"
	"defect-tracker/internal/metrics"
	"defect-tracker/internal/storage"

	"go.uber.org/zap"
)

// Deps are the services the handlers share.
type Deps struct {
	Storage        storage.Storage
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
	MaxUploadBytes int64
}

var (
	files          storage.Storage
	logger         = logging.NewNop()
	recorder       *metrics.Metrics
	maxUploadBytes int64 = 10 << 20
)

func Configure(d Deps) {
	files = d.Storage
	if d.Logger != nil {
		logger = d.Logger
	}
	recorder = d.Metrics
	if d.MaxUploadBytes > 0 {
		maxUploadBytes = d.MaxUploadBytes
	}
}

func componentLog(name string) *zap.Logger {
	return logger.Component("handlers." + name)
}
