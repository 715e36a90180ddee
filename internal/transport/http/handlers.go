package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	mediaapp "github.com/albert775f/myteamberlin/internal/application/media"
	"github.com/albert775f/myteamberlin/internal/domain/media"
)

// multipartOverhead bounds form framing around the file part.
const multipartOverhead = 1 << 20

type assetUseCases interface {
	Upload(ctx context.Context, req mediaapp.UploadRequest) (media.Asset, error)
	Get(ctx context.Context, requesterID, id string) (media.Asset, error)
	List(ctx context.Context, uploaderID string) ([]media.Asset, error)
	Delete(ctx context.Context, requesterID, assetID string) (bool, error)
}

type jobUseCases interface {
	Submit(ctx context.Context, creatorID string, inputAssetIDs []string, removeSilence bool) (media.MergeJob, error)
	GetJob(ctx context.Context, requesterID, id string) (media.MergeJob, error)
	ListJobs(ctx context.Context, creatorID string) ([]media.MergeJob, error)
	Cancel(ctx context.Context, requesterID, jobID string) (media.MergeJob, error)
}

type fileLocator interface {
	Locate(name string) (string, bool)
}

type Handler struct {
	assets         assetUseCases
	jobs           jobUseCases
	files          fileLocator
	logger         zerolog.Logger
	maxUploadBytes int64
}

// NewHandler wires HTTP handlers with application use cases.
func NewHandler(assets assetUseCases, jobs jobUseCases, files fileLocator, logger zerolog.Logger, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = media.MaxUploadBytes
	}
	return &Handler{assets: assets, jobs: jobs, files: files, logger: logger, maxUploadBytes: maxUploadBytes}
}

type assetResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	StorageName  string    `json:"storageName"`
	URL          string    `json:"url"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	MIMEType     string    `json:"mimeType"`
	Duration     float64   `json:"duration"`
	BitRate      int64     `json:"bitrate"`
	SampleRate   int       `json:"sampleRate"`
	Codec        string    `json:"codec"`
	UploaderID   string    `json:"uploaderId"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

type jobResponse struct {
	ID            string     `json:"id"`
	CreatorID     string     `json:"creatorId"`
	InputAssetIDs []string   `json:"inputAssetIds"`
	RemoveSilence bool       `json:"removeSilence"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	OutputAssetID string     `json:"outputAssetId,omitempty"`
	OutputURL     string     `json:"outputUrl,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

type mergeRequest struct {
	AssetIDs      []string `json:"assetIds"`
	RemoveSilence bool     `json:"removeSilence"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UploadAsset handles POST /api/assets with a multipart "file" field. The
// part is streamed to storage without buffering the whole form.
func (h *Handler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	reader, err := r.MultipartReader()
	if err != nil {
		h.writeError(w, r, media.ValidationError("expected multipart/form-data body"))
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			h.writeError(w, r, media.ValidationError("missing file field"))
			return
		}
		if err != nil {
			h.writeError(w, r, uploadReadError(err))
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		asset, err := h.assets.Upload(r.Context(), mediaapp.UploadRequest{
			UploaderID:   userFromContext(r.Context()),
			OriginalName: part.FileName(),
			MIMEType:     part.Header.Get("Content-Type"),
			Body:         part,
		})
		_ = part.Close()
		if err != nil {
			h.writeError(w, r, uploadReadError(err))
			return
		}
		writeJSON(w, http.StatusCreated, toAssetResponse(asset))
		return
	}
}

// ListAssets handles GET /api/assets.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.assets.List(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]assetResponse, 0, len(assets))
	for _, asset := range assets {
		resp = append(resp, toAssetResponse(asset))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAsset handles GET /api/assets/{id}.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.assets.Get(r.Context(), userFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetResponse(asset))
}

// DeleteAsset handles DELETE /api/assets/{id}.
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.assets.Delete(r.Context(), userFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// SubmitMerge handles POST /api/merges.
func (h *Handler) SubmitMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, r, media.ValidationError("invalid merge request: %v", err))
		return
	}

	job, err := h.jobs.Submit(r.Context(), userFromContext(r.Context()), req.AssetIDs, req.RemoveSilence)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job, ""))
}

// ListMerges handles GET /api/merges.
func (h *Handler) ListMerges(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toJobResponse(job, ""))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMerge handles GET /api/merges/{id}. Completed jobs include the output URL.
func (h *Handler) GetMerge(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	job, err := h.jobs.GetJob(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	outputURL := ""
	if job.OutputAssetID != "" {
		if asset, err := h.assets.Get(r.Context(), user, job.OutputAssetID); err == nil {
			outputURL = fileURL(asset.StorageName)
		}
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, outputURL))
}

// CancelMerge handles POST /api/merges/{id}/cancel.
func (h *Handler) CancelMerge(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.Context(), userFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job, ""))
}

// ServeFile handles GET /files/{name} for uploads and merge outputs.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	full, ok := h.files.Locate(mux.Vars(r)["name"])
	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(full)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	streamFile(w, r, full, contentType)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	body := map[string]string{"error": err.Error()}
	if kind := media.KindOf(err); kind != media.KindInternal {
		body["kind"] = string(kind)
	}

	event := h.logger.Warn()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		event = h.logger.Error()
		body["error"] = "internal error"
	}
	event.Err(err).
		Str("request_id", requestIDFromContext(r.Context())).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("request failed")
	writeJSON(w, status, body)
}

func statusForError(err error) int {
	if errors.Is(err, mediaapp.ErrQueueFull) || errors.Is(err, mediaapp.ErrManagerStopped) {
		return http.StatusServiceUnavailable
	}
	switch media.KindOf(err) {
	case media.KindValidation:
		return http.StatusBadRequest
	case media.KindNotFound:
		return http.StatusNotFound
	case media.KindForbidden:
		return http.StatusForbidden
	case media.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// uploadReadError turns an exceeded request body limit into the upload size
// validation error.
func uploadReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return media.ErrFileTooLarge
	}
	return err
}

func toAssetResponse(asset media.Asset) assetResponse {
	return assetResponse{
		ID:           asset.ID,
		Kind:         string(asset.Kind),
		StorageName:  asset.StorageName,
		URL:          fileURL(asset.StorageName),
		OriginalName: asset.OriginalName,
		Size:         asset.Size,
		MIMEType:     asset.MIMEType,
		Duration:     asset.Metadata.DurationSeconds,
		BitRate:      asset.Metadata.BitRate,
		SampleRate:   asset.Metadata.SampleRate,
		Codec:        asset.Metadata.Codec,
		UploaderID:   asset.UploaderID,
		UploadedAt:   asset.UploadedAt,
	}
}

func toJobResponse(job media.MergeJob, outputURL string) jobResponse {
	inputs := job.InputAssetIDs
	if inputs == nil {
		inputs = []string{}
	}
	return jobResponse{
		ID:            job.ID,
		CreatorID:     job.CreatorID,
		InputAssetIDs: inputs,
		RemoveSilence: job.RemoveSilence,
		Status:        string(job.Status),
		Progress:      job.Progress,
		OutputAssetID: job.OutputAssetID,
		OutputURL:     outputURL,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
}

func fileURL(storageName string) string {
	return "/files/" + storageName
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
