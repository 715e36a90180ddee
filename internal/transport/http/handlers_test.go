package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	mediaapp "github.com/albert775f/myteamberlin/internal/application/media"
	"github.com/albert775f/myteamberlin/internal/domain/media"
)

type stubAssets struct {
	uploaded  mediaapp.UploadRequest
	body      string
	uploadErr error

	assets    map[string]media.Asset
	deleted   bool
	deleteErr error
}

func (s *stubAssets) Upload(_ context.Context, req mediaapp.UploadRequest) (media.Asset, error) {
	s.uploaded = req
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return media.Asset{}, err
	}
	s.body = string(data)
	if s.uploadErr != nil {
		return media.Asset{}, s.uploadErr
	}
	return media.Asset{
		ID:           "asset-1",
		Kind:         media.AssetUpload,
		StorageName:  "20261019T120000-0123456789ab.mp3",
		OriginalName: req.OriginalName,
		Size:         int64(len(data)),
		MIMEType:     req.MIMEType,
		Metadata:     media.Metadata{DurationSeconds: 10.5, Codec: "mp3"},
		UploaderID:   req.UploaderID,
		UploadedAt:   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (s *stubAssets) Get(_ context.Context, requesterID, id string) (media.Asset, error) {
	asset, ok := s.assets[id]
	if !ok {
		return media.Asset{}, media.NotFoundError("asset", id)
	}
	if !asset.OwnedBy(requesterID) {
		return media.Asset{}, media.ForbiddenError("asset %q belongs to another user", id)
	}
	return asset, nil
}

func (s *stubAssets) List(_ context.Context, uploaderID string) ([]media.Asset, error) {
	var out []media.Asset
	for _, asset := range s.assets {
		if asset.UploaderID == uploaderID {
			out = append(out, asset)
		}
	}
	return out, nil
}

func (s *stubAssets) Delete(_ context.Context, _, _ string) (bool, error) {
	return s.deleted, s.deleteErr
}

type stubJobs struct {
	submitted []string
	silence   bool
	creator   string
	submitErr error

	jobs      map[string]media.MergeJob
	cancelErr error
}

func (s *stubJobs) Submit(_ context.Context, creatorID string, ids []string, removeSilence bool) (media.MergeJob, error) {
	s.creator, s.submitted, s.silence = creatorID, ids, removeSilence
	if s.submitErr != nil {
		return media.MergeJob{}, s.submitErr
	}
	return media.MergeJob{ID: "job-1", CreatorID: creatorID, InputAssetIDs: ids, RemoveSilence: removeSilence, Status: media.StatusPending}, nil
}

func (s *stubJobs) GetJob(_ context.Context, requesterID, id string) (media.MergeJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return media.MergeJob{}, media.NotFoundError("merge job", id)
	}
	if !job.CreatedBy(requesterID) {
		return media.MergeJob{}, media.ForbiddenError("merge job %q belongs to another user", id)
	}
	return job, nil
}

func (s *stubJobs) ListJobs(_ context.Context, creatorID string) ([]media.MergeJob, error) {
	var out []media.MergeJob
	for _, job := range s.jobs {
		if job.CreatorID == creatorID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *stubJobs) Cancel(_ context.Context, _, id string) (media.MergeJob, error) {
	if s.cancelErr != nil {
		return media.MergeJob{}, s.cancelErr
	}
	return s.jobs[id], nil
}

type dirLocator struct{ dir string }

func (d dirLocator) Locate(name string) (string, bool) {
	if _, err := media.ValidateStorageName(name); err != nil {
		return "", false
	}
	path := filepath.Join(d.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func newTestRouter(assets *stubAssets, jobs *stubJobs, dir string) http.Handler {
	handler := NewHandler(assets, jobs, dirLocator{dir: dir}, zerolog.Nop(), 1<<10)
	return NewRouter(handler, zerolog.Nop())
}

func doRequest(router http.Handler, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for key, value := range header {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("note", "ignored")
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart failed: %v", err)
	}
	_, _ = part.Write(data)
	_ = writer.Close()
	return &buf, writer.FormDataContentType()
}

func TestAPIRequiresUserHeader(t *testing.T) {
	router := newTestRouter(&stubAssets{}, &stubJobs{}, t.TempDir())
	rec := doRequest(router, http.MethodGet, "/api/assets", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&stubAssets{}, &stubJobs{}, t.TempDir())
	rec := doRequest(router, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestUploadAsset(t *testing.T) {
	assets := &stubAssets{}
	router := newTestRouter(assets, &stubJobs{}, t.TempDir())
	body, contentType := multipartBody(t, "file", "take.mp3", "audio/mpeg", []byte("ID3 audio"))

	rec := doRequest(router, http.MethodPost, "/api/assets", body, map[string]string{
		"Content-Type": contentType,
		UserHeader:     "u1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if assets.uploaded.UploaderID != "u1" || assets.uploaded.MIMEType != "audio/mpeg" || assets.uploaded.OriginalName != "take.mp3" || assets.body != "ID3 audio" {
		t.Fatalf("unexpected upload request %+v body=%q", assets.uploaded, assets.body)
	}

	var resp assetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.URL != "/files/20261019T120000-0123456789ab.mp3" || resp.Duration != 10.5 || resp.UploaderID != "u1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestUploadAssetErrors(t *testing.T) {
	cases := []struct {
		name   string
		field  string
		data   []byte
		err    error
		status int
	}{
		{name: "missing field", field: "other", data: []byte("x"), status: http.StatusBadRequest},
		{name: "validation", field: "file", data: []byte("x"), err: media.ValidationError("unsupported content type"), status: http.StatusBadRequest},
		{name: "body too large", field: "file", data: bytes.Repeat([]byte{1}, 3<<20), status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubAssets{uploadErr: tc.err}, &stubJobs{}, t.TempDir())
			body, contentType := multipartBody(t, tc.field, "a.mp3", "audio/mpeg", tc.data)
			rec := doRequest(router, http.MethodPost, "/api/assets", body, map[string]string{
				"Content-Type": contentType,
				UserHeader:     "u1",
			})
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDeleteAssetStatuses(t *testing.T) {
	cases := []struct {
		name    string
		deleted bool
		err     error
		status  int
		body    string
	}{
		{name: "deleted", deleted: true, status: http.StatusOK, body: `{"deleted":true}`},
		{name: "already absent", status: http.StatusOK, body: `{"deleted":false}`},
		{name: "forbidden", err: media.ForbiddenError("not yours"), status: http.StatusForbidden},
		{name: "referenced", err: media.ConflictError("in use"), status: http.StatusConflict},
		{name: "internal", err: errors.New("db down"), status: http.StatusInternalServerError, body: `internal error`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubAssets{deleted: tc.deleted, deleteErr: tc.err}, &stubJobs{}, t.TempDir())
			rec := doRequest(router, http.MethodDelete, "/api/assets/a1", nil, map[string]string{UserHeader: "u1"})
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.body != "" && !strings.Contains(rec.Body.String(), tc.body) {
				t.Fatalf("expected body to contain %q, got %s", tc.body, rec.Body.String())
			}
		})
	}
}

func TestSubmitMerge(t *testing.T) {
	jobs := &stubJobs{}
	router := newTestRouter(&stubAssets{}, jobs, t.TempDir())

	rec := doRequest(router, http.MethodPost, "/api/merges",
		strings.NewReader(`{"assetIds":["a","b"],"removeSilence":true}`),
		map[string]string{UserHeader: "u1", "Content-Type": "application/json"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if jobs.creator != "u1" || len(jobs.submitted) != 2 || !jobs.silence {
		t.Fatalf("unexpected submission %+v", jobs)
	}
	var resp jobResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.ID != "job-1" || resp.Status != "pending" || resp.Progress != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSubmitMergeErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "malformed json", body: `{"assetIds":`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"ids":["a","b"]}`, status: http.StatusBadRequest},
		{name: "validation", body: `{"assetIds":["a"]}`, err: media.ValidationError("need 2"), status: http.StatusBadRequest},
		{name: "queue full", body: `{"assetIds":["a","b"]}`, err: mediaapp.ErrQueueFull, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubAssets{}, &stubJobs{submitErr: tc.err}, t.TempDir())
			rec := doRequest(router, http.MethodPost, "/api/merges", strings.NewReader(tc.body), map[string]string{UserHeader: "u1"})
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetMergeIncludesOutputURL(t *testing.T) {
	assets := &stubAssets{assets: map[string]media.Asset{
		"out-1": {ID: "out-1", StorageName: "20261019T120000-0123456789ab.mp3", UploaderID: "u1"},
	}}
	jobs := &stubJobs{jobs: map[string]media.MergeJob{
		"job-1": {ID: "job-1", CreatorID: "u1", Status: media.StatusCompleted, Progress: 100, OutputAssetID: "out-1"},
	}}
	router := newTestRouter(assets, jobs, t.TempDir())

	rec := doRequest(router, http.MethodGet, "/api/merges/job-1", nil, map[string]string{UserHeader: "u1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp jobResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.OutputURL != "/files/20261019T120000-0123456789ab.mp3" || resp.Progress != 100 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = doRequest(router, http.MethodGet, "/api/merges/missing", nil, map[string]string{UserHeader: "u1"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReadsOfOtherUsersResourcesAreForbidden(t *testing.T) {
	assets := &stubAssets{assets: map[string]media.Asset{
		"asset-1": {ID: "asset-1", StorageName: "20261019T120000-0123456789ab.mp3", UploaderID: "u1"},
	}}
	jobs := &stubJobs{jobs: map[string]media.MergeJob{
		"job-1": {ID: "job-1", CreatorID: "u1", Status: media.StatusPending},
	}}
	router := newTestRouter(assets, jobs, t.TempDir())

	for _, target := range []string{"/api/assets/asset-1", "/api/merges/job-1"} {
		rec := doRequest(router, http.MethodGet, target, nil, map[string]string{UserHeader: "u2"})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", target, rec.Code)
		}
		rec = doRequest(router, http.MethodGet, target, nil, map[string]string{UserHeader: "u1"})
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 for owner, got %d", target, rec.Code)
		}
	}
}

func TestCancelMergeConflict(t *testing.T) {
	jobs := &stubJobs{cancelErr: media.ConflictError("already completed")}
	router := newTestRouter(&stubAssets{}, jobs, t.TempDir())
	rec := doRequest(router, http.MethodPost, "/api/merges/job-1/cancel", nil, map[string]string{UserHeader: "u1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestServeFileRanges(t *testing.T) {
	dir := t.TempDir()
	name := "20261019T120000-0123456789ab.mp3"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	router := newTestRouter(&stubAssets{}, &stubJobs{}, dir)

	rec := doRequest(router, http.MethodGet, "/files/"+name, nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "0123456789" || rec.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("unexpected full response %d %q %q", rec.Code, rec.Body.String(), rec.Header().Get("Content-Type"))
	}

	cases := []struct {
		rng    string
		status int
		body   string
	}{
		{rng: "bytes=2-5", status: http.StatusPartialContent, body: "2345"},
		{rng: "bytes=7-", status: http.StatusPartialContent, body: "789"},
		{rng: "bytes=-3", status: http.StatusPartialContent, body: "789"},
		{rng: "bytes=8-100", status: http.StatusPartialContent, body: "89"},
		{rng: "bytes=10-", status: http.StatusRequestedRangeNotSatisfiable},
		{rng: "bytes=5-2", status: http.StatusRequestedRangeNotSatisfiable},
		{rng: "items=0-1", status: http.StatusRequestedRangeNotSatisfiable},
	}
	for _, tc := range cases {
		rec := doRequest(router, http.MethodGet, "/files/"+name, nil, map[string]string{"Range": tc.rng})
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.rng, tc.status, rec.Code)
		}
		if tc.body != "" && rec.Body.String() != tc.body {
			t.Fatalf("%s: expected %q, got %q", tc.rng, tc.body, rec.Body.String())
		}
	}
}

func TestServeFileRejectsUnknownNames(t *testing.T) {
	router := newTestRouter(&stubAssets{}, &stubJobs{}, t.TempDir())
	for _, target := range []string{"/files/secret.txt", "/files/.hidden", "/files/20261019T120000-0123456789ab.mp3"} {
		rec := doRequest(router, http.MethodGet, target, nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}
