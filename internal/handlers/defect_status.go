package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const maxDraftBytes = 64 << 10

type transitionRequest struct {
	Status  string `form:"status" json:"status"`
	Comment string `form:"comment" json:"comment"`
	Reason  string `form:"reason" json:"reason"`
	Version int    `form:"version" json:"version"`
}

// bindTransition reads JSON or form bodies. The defect id comes from the route.
func bindTransition(c *gin.Context) (uint, transitionRequest, bool) {
	var req transitionRequest

	id, ok := parseID(c, "id")
	if !ok {
		return 0, req, false
	}
	if err := c.ShouldBind(&req); err != nil {
		respondFail(c, http.StatusBadRequest, middleware.TranslateValidationError(err))
		return 0, req, false
	}
	req.Status = strings.TrimSpace(req.Status)
	req.Comment = strings.TrimSpace(req.Comment)
	req.Reason = strings.TrimSpace(req.Reason)
	return id, req, true
}

func transitioned(c *gin.Context, msg string, d *models.Defect) {
	recorder.ObserveTransition(string(d.Status))
	respondOK(c, msg, gin.H{
		"id":      d.ID,
		"status":  d.Status,
		"version": d.Version,
	})
}

// RejectDefect: POST /api/defects/:id/reject {comment, version}
func RejectDefect(c *gin.Context) {
	id, req, ok := bindTransition(c)
	if !ok {
		return
	}
	if req.Comment == "" {
		respondFail(c, http.StatusBadRequest, "a rejection comment is required")
		return
	}

	d, err := database.RejectDefect(c.Request.Context(), id, req.Version, req.Comment, middleware.Actor(c))
	if err != nil {
		fail(c, "defect_status", err)
		return
	}
	transitioned(c, "Defect rejected", d)
}

// ReopenDefect: POST /api/defects/:id/reopen {reason, version}
func ReopenDefect(c *gin.Context) {
	id, req, ok := bindTransition(c)
	if !ok {
		return
	}
	if req.Reason == "" {
		respondFail(c, http.StatusBadRequest, "a reason is required to reopen a defect")
		return
	}

	d, err := database.ReopenDefect(c.Request.Context(), id, req.Version, req.Reason, middleware.Actor(c))
	if err != nil {
		fail(c, "defect_status", err)
		return
	}
	transitioned(c, "Defect reopened", d)
}

// CloseDefect: POST /api/defects/:id/close, multipart with images[] and optional comment.
func CloseDefect(c *gin.Context) {
	id, req, ok := bindTransition(c)
	if !ok {
		return
	}

	current, err := database.LoadDefect(c.Request.Context(), id)
	if err == nil && !middleware.Actor(c).CanActOn(current) {
		err = database.ErrForbidden
	}
	if err != nil {
		fail(c, "defect_status", err)
		return
	}

	keys, err := saveUploads(c, "images", fmt.Sprintf("defects/%d/completion", id))
	if err != nil {
		respondFail(c, http.StatusBadRequest, errors.Cause(err).Error())
		return
	}
	if len(keys) == 0 {
		respondFail(c, http.StatusBadRequest, "at least one completion image is required")
		return
	}

	d, err := database.CloseDefect(c.Request.Context(), id, req.Version, keys, req.Comment, middleware.Actor(c))
	if err != nil {
		discardUploads(c.Request.Context(), keys)
		fail(c, "defect_status", err)
		return
	}
	transitioned(c, "Defect closed", d)
}

// ChangeDefectStatus: POST /api/defects/:id/status {status, version, comment|reason}
func ChangeDefectStatus(c *gin.Context) {
	id, req, ok := bindTransition(c)
	if !ok {
		return
	}

	next := models.DefectStatus(req.Status)
	if !next.Valid() || next == models.DefectReopened {
		respondFail(c, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}

	var (
		d   *models.Defect
		err error
	)
	actor := middleware.Actor(c)
	switch next {
	case models.DefectRejected:
		if req.Comment == "" {
			respondFail(c, http.StatusBadRequest, "a rejection comment is required")
			return
		}
		d, err = database.RejectDefect(c.Request.Context(), id, req.Version, req.Comment, actor)
	case models.DefectClosed:
		respondFail(c, http.StatusBadRequest, fmt.Sprintf("closing needs completion images, use /api/defects/%d/close", id))
		return
	case models.DefectOpen:
		reason := req.Reason
		if reason == "" {
			reason = req.Comment
		}
		if reason == "" {
			respondFail(c, http.StatusBadRequest, "a reason is required to reopen a defect")
			return
		}
		d, err = database.ReopenDefect(c.Request.Context(), id, req.Version, reason, actor)
	default:
		d, err = database.TransitionDefect(c.Request.Context(), database.Transition{
			DefectID: id,
			Version:  req.Version,
			To:       next,
			Actor:    actor,
			Details:  req.Comment,
		})
	}
	if err != nil {
		fail(c, "defect_status", err)
		return
	}
	transitioned(c, "Status updated", d)
}

// AddDefectImages: POST /api/defects/:id/images, multipart images[].
func AddDefectImages(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	keys, err := saveUploads(c, "images", fmt.Sprintf("defects/%d", id))
	if err != nil {
		respondFail(c, http.StatusBadRequest, errors.Cause(err).Error())
		return
	}
	if len(keys) == 0 {
		respondFail(c, http.StatusBadRequest, "no images uploaded")
		return
	}

	if err := database.AddDefectImages(c.Request.Context(), id, keys, middleware.Actor(c)); err != nil {
		discardUploads(c.Request.Context(), keys)
		fail(c, "defect_status", err)
		return
	}

	urls := make([]string, 0, len(keys))
	for _, k := range keys {
		urls = append(urls, files.URL(k))
	}
	respondOK(c, fmt.Sprintf("%d image(s) added", len(keys)), gin.H{"images": urls})
}

//
// DRAFTS
//

func GetDefectDraft(c *gin.Context) {
	draft, err := database.LoadDraft(c.Request.Context(), middleware.Actor(c).ID)
	if errors.Is(err, database.ErrNotFound) {
		respondOK(c, "", nil)
		return
	}
	if err != nil {
		fail(c, "drafts", err)
		return
	}
	respondOK(c, "", gin.H{
		"payload":    json.RawMessage(draft.Payload),
		"updated_at": draft.UpdatedAt,
	})
}

// SaveDefectDraft stores the raw JSON body of the new-defect form.
func SaveDefectDraft(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDraftBytes+1))
	if err != nil {
		respondFail(c, http.StatusBadRequest, "could not read draft")
		return
	}
	if len(body) > maxDraftBytes {
		respondFail(c, http.StatusRequestEntityTooLarge, "draft is too large")
		return
	}
	if !json.Valid(body) {
		respondFail(c, http.StatusBadRequest, "draft must be JSON")
		return
	}

	actor := middleware.Actor(c)
	if err := database.SaveDraft(c.Request.Context(), actor.ID, body, actor.IP); err != nil {
		fail(c, "drafts", err)
		return
	}
	respondOK(c, "Draft saved", nil)
}

func DeleteDefectDraft(c *gin.Context) {
	if err := database.DeleteDraft(c.Request.Context(), middleware.Actor(c).ID); err != nil {
		fail(c, "drafts", err)
		return
	}
	respondOK(c, "Draft discarded", nil)
}
