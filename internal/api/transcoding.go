package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/socialnet/backend/internal/errors"
	"github.com/socialnet/backend/internal/logger"
	"github.com/socialnet/backend/internal/transcode"
)

// maxSubmitBody bounds the JSON body of a submission.
const maxSubmitBody = 64 * 1024

type TranscodingHandlers struct {
	service   *transcode.Service
	uploadDir string
	log       *logger.Logger
}

// NewTranscodingHandlers serves the job endpoints. Submitted input paths must
// resolve inside uploadDir, where the upload service stages files.
func NewTranscodingHandlers(service *transcode.Service, uploadDir string, log *logger.Logger) *TranscodingHandlers {
	if log == nil {
		log = logger.Default().WithComponent("api")
	}
	return &TranscodingHandlers{service: service, uploadDir: uploadDir, log: log}
}

// SubmitJobRequest is the body of POST /api/v1/transcoding/jobs.
type SubmitJobRequest struct {
	InputPath        string             `json:"input_path"`
	JobType          string             `json:"job_type"`
	OriginalFilename string             `json:"original_filename"`
	Linkage          *transcode.Linkage `json:"linkage,omitempty"`
}

type SubmitJobResponse struct {
	JobID  string           `json:"job_id"`
	Status transcode.Status `json:"status"`
}

// SubmitJob handles POST /api/v1/transcoding/jobs
func (h *TranscodingHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	var req SubmitJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	inputPath, err := h.resolveInput(req.InputPath)
	if err != nil {
		return err
	}

	// the job must be queued even if the client goes away mid-request
	ctx := apperrors.DetachedContext(r.Context())
	job, err := h.service.Submit(ctx, transcode.SubmitRequest{
		InputPath:        inputPath,
		Type:             transcode.JobType(strings.ToLower(req.JobType)),
		SubmittedBy:      user.UserID,
		OriginalFilename: req.OriginalFilename,
		Linkage:          req.Linkage,
	})
	if err != nil {
		return toAppError(err)
	}

	h.log.Info(r.Context(), "transcoding job submitted", logger.Fields{
		"job_id":   job.ID,
		"job_type": string(job.Type),
		"user_id":  user.UserID,
	})

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusAccepted, SubmitJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
	return nil
}

// resolveInput cleans p and requires an existing regular file inside the
// upload directory.
func (h *TranscodingHandlers) resolveInput(p string) (string, error) {
	if p == "" {
		return "", apperrors.ValidationError("input_path is required")
	}

	root, err := filepath.Abs(h.uploadDir)
	if err != nil {
		return "", apperrors.InternalError("upload directory unavailable").WithCause(err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.ValidationError("input_path must be inside the upload directory")
	}

	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", apperrors.ValidationError("input_path does not name an uploaded file")
	}
	return p, nil
}

// GetJob handles GET /api/v1/transcoding/jobs/{job_id}
func (h *TranscodingHandlers) GetJob(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	jobID := r.PathValue("job_id")
	if jobID == "" {
		return apperrors.ValidationError("job_id is required")
	}

	job, err := h.service.GetStatus(r.Context(), jobID, user.UserID)
	if err != nil {
		return toAppError(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, job)
	return nil
}

// ListJobs handles GET /api/v1/transcoding/jobs?status=&page=&limit=
func (h *TranscodingHandlers) ListJobs(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	q := r.URL.Query()
	var opts transcode.ListOptions

	if raw := q.Get("status"); raw != "" {
		status, err := transcode.ParseStatus(raw)
		if err != nil {
			return apperrors.ValidationError(err.Error())
		}
		opts.Status = status
	}
	if opts.Page, err = intParam(q.Get("page"), "page"); err != nil {
		return err
	}
	if opts.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return err
	}

	page, err := h.service.ListJobs(r.Context(), user.UserID, opts)
	if err != nil {
		return toAppError(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, page)
	return nil
}

// Stats handles GET /api/v1/transcoding/stats
func (h *TranscodingHandlers) Stats(w http.ResponseWriter, r *http.Request) error {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, h.service.QueueStats())
	return nil
}

// intParam parses an optional non-negative integer query parameter. Zero
// means unset.
func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.ValidationError(name + " must be a non-negative integer")
	}
	return n, nil
}
