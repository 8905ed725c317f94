package handlers

import (
	"sort"

	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// softDelete runs the shared deletion routine for one record, then removes
// the files nothing references any more and writes the deletion log line.
func softDelete[T any](c *gin.Context, policy database.SoftDeletePolicy[T], id uint, reason string) (*database.SoftDeleteResult[T], error) {
	actor := middleware.Actor(c)

	res, err := database.SoftDelete(c.Request.Context(), policy, database.SoftDeleteRequest{
		ID:     id,
		UserID: actor.ID,
		Reason: reason,
		IP:     actor.IP,
	})
	if err != nil {
		return nil, err
	}

	var (
		removed []string
		failed  map[string]error
	)
	if len(res.Orphaned) > 0 && files != nil {
		removed, failed = storage.Remove(c.Request.Context(), files, res.Orphaned)
	}

	failures := make([]string, 0, len(failed))
	for key, ferr := range failed {
		failures = append(failures, key+": "+ferr.Error())
	}
	sort.Strings(failures)

	logger.Deletions.Info("deleted",
		zap.String("entity", policy.Entity),
		zap.Uint("id", id),
		zap.Uint("user_id", actor.ID),
		zap.String("ip", actor.IP),
		zap.String("reason", reason),
		zap.Strings("removed_files", removed),
		zap.Strings("retained_files", res.Retained),
		zap.Strings("failed_files", failures),
	)
	if len(failures) > 0 {
		componentLog("deletion").Error("could not remove files", zap.String("entity", policy.Entity), zap.Uint("id", id), zap.Strings("failures", failures))
		database.LogSystem(database.LevelWarn, "deletion", policy.Entity+": file removal failed", actor.ID)
	}
	recorder.ObserveDeletion(policy.Entity)

	res.Orphaned = removed
	return res, nil
}
