package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

var errStale = errors.New("stale transition")

type memRepo struct {
	mu       sync.Mutex
	assets   map[string]media.Asset
	jobs     map[string]media.MergeJob
	history  map[string][]media.JobStatus
	progress map[string][]int

	createJobErr     error
	completeFailures int
	onGetJob         func(id string)
}

func newMemRepo() *memRepo {
	return &memRepo{
		assets:   make(map[string]media.Asset),
		jobs:     make(map[string]media.MergeJob),
		history:  make(map[string][]media.JobStatus),
		progress: make(map[string][]int),
	}
}

func (r *memRepo) CreateAsset(_ context.Context, asset media.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset.ID] = asset
	return nil
}

func (r *memRepo) GetAsset(_ context.Context, id string) (media.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok {
		return media.Asset{}, media.NotFoundError("asset", id)
	}
	return asset, nil
}

func (r *memRepo) ListAssets(_ context.Context, uploaderID string) ([]media.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []media.Asset
	for _, asset := range r.assets {
		if uploaderID == "" || asset.UploaderID == uploaderID {
			out = append(out, asset)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteAsset(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.assets[id]
	delete(r.assets, id)
	return ok, nil
}

func (r *memRepo) StorageNames(_ context.Context, kind media.AssetKind) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make(map[string]bool)
	for _, asset := range r.assets {
		if asset.Kind == kind {
			names[asset.StorageName] = true
		}
	}
	return names, nil
}

func (r *memRepo) CreateJob(_ context.Context, job media.MergeJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createJobErr != nil {
		return r.createJobErr
	}
	job.InputAssetIDs = append([]string(nil), job.InputAssetIDs...)
	r.jobs[job.ID] = job
	r.history[job.ID] = []media.JobStatus{job.Status}
	return nil
}

func (r *memRepo) GetJob(_ context.Context, id string) (media.MergeJob, error) {
	if r.onGetJob != nil {
		r.onGetJob(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return media.MergeJob{}, media.NotFoundError("merge job", id)
	}
	return job, nil
}

func (r *memRepo) ListJobs(_ context.Context, creatorID string) ([]media.MergeJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []media.MergeJob
	for _, job := range r.jobs {
		if creatorID == "" || job.CreatorID == creatorID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (r *memRepo) ListJobsByStatus(_ context.Context, statuses ...media.JobStatus) ([]media.MergeJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []media.MergeJob
	for _, job := range r.jobs {
		for _, status := range statuses {
			if job.Status == status {
				out = append(out, job)
			}
		}
	}
	return out, nil
}

func (r *memRepo) HasActiveReference(_ context.Context, assetID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if !job.Status.Terminal() && job.References(assetID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) MarkProcessing(_ context.Context, id string, startedAt time.Time) error {
	return r.transition(id, media.StatusProcessing, func(job *media.MergeJob) {
		job.StartedAt = &startedAt
	})
}

func (r *memRepo) UpdateProgress(_ context.Context, id string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job.Status != media.StatusProcessing || progress <= job.Progress {
		return nil
	}
	job.Progress = progress
	r.jobs[id] = job
	r.progress[id] = append(r.progress[id], progress)
	return nil
}

func (r *memRepo) MarkCompleted(_ context.Context, id, outputAssetID string, completedAt time.Time) error {
	r.mu.Lock()
	if r.completeFailures > 0 {
		r.completeFailures--
		r.mu.Unlock()
		return errors.New("database is locked")
	}
	r.mu.Unlock()
	return r.transition(id, media.StatusCompleted, func(job *media.MergeJob) {
		job.Progress = 100
		job.OutputAssetID = outputAssetID
		job.CompletedAt = &completedAt
	})
}

func (r *memRepo) MarkFailed(_ context.Context, id, message string, completedAt time.Time) error {
	return r.transition(id, media.StatusFailed, func(job *media.MergeJob) {
		job.Error = message
		job.CompletedAt = &completedAt
	})
}

func (r *memRepo) MarkCancelled(_ context.Context, id, message string, completedAt time.Time) error {
	return r.transition(id, media.StatusCancelled, func(job *media.MergeJob) {
		job.Error = message
		job.CompletedAt = &completedAt
	})
}

func (r *memRepo) transition(id string, to media.JobStatus, apply func(*media.MergeJob)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || !media.CanTransition(job.Status, to) {
		return errStale
	}
	job.Status = to
	apply(&job)
	r.jobs[id] = job
	r.history[id] = append(r.history[id], to)
	return nil
}

func (r *memRepo) statusHistory(id string) []media.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.JobStatus(nil), r.history[id]...)
}

func (r *memRepo) progressHistory(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress[id]...)
}

// memFiles keeps stored files in memory under "/store/<kind>/<name>" paths.
type memFiles struct {
	mu       sync.Mutex
	seq      int
	data     map[string][]byte
	meta     map[string]media.Metadata
	modTimes map[string]time.Time

	removeErr error
}

func newMemFiles() *memFiles {
	return &memFiles{
		data:     make(map[string][]byte),
		meta:     make(map[string]media.Metadata),
		modTimes: make(map[string]time.Time),
	}
}

func (f *memFiles) NewName(originalName, mimeType string) (string, error) {
	f.mu.Lock()
	f.seq++
	seq := f.seq
	f.mu.Unlock()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	return media.NewStorageName(now, fmt.Sprintf("%012x", seq), media.StorageExt(originalName, mimeType))
}

func (f *memFiles) Path(kind media.AssetKind, name string) (string, error) {
	valid, err := media.ValidateStorageName(name)
	if err != nil {
		return "", err
	}
	return "/store/" + string(kind) + "/" + valid, nil
}

func (f *memFiles) Write(_ context.Context, name string, r io.Reader, limit int64) (int64, error) {
	path, err := f.Path(media.AssetUpload, name)
	if err != nil {
		return 0, err
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return 0, err
	}
	if int64(len(body)) > limit {
		return 0, media.ErrFileTooLarge
	}
	f.put(path, body)
	return int64(len(body)), nil
}

func (f *memFiles) Stat(kind media.AssetKind, name string) (int64, error) {
	path, err := f.Path(kind, name)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.data[path]
	if !ok {
		return 0, media.FilesystemError("stat", name, errors.New("no such file"))
	}
	return int64(len(body)), nil
}

func (f *memFiles) Remove(kind media.AssetKind, name string) (bool, error) {
	path, err := f.Path(kind, name)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return false, f.removeErr
	}
	_, ok := f.data[path]
	delete(f.data, path)
	return ok, nil
}

func (f *memFiles) ListOutputs() ([]media.StoredFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := "/store/" + string(media.AssetMergeOutput) + "/"
	var out []media.StoredFile
	for path, body := range f.data {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		out = append(out, media.StoredFile{
			Name:       strings.TrimPrefix(path, prefix),
			Size:       int64(len(body)),
			ModifiedAt: f.modTimes[path],
		})
	}
	return out, nil
}

func (f *memFiles) put(path string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[path] = body
	if _, ok := f.modTimes[path]; !ok {
		f.modTimes[path] = time.Now()
	}
}

func (f *memFiles) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[path]
	return ok
}

// Probe reads metadata recorded for a path, acting as the Prober port.
func (f *memFiles) Probe(_ context.Context, path string) (media.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.meta[path]
	if !ok {
		return media.Metadata{}, errors.New("ffprobe: invalid data found when processing input")
	}
	return meta, nil
}

type mergeCall struct {
	inputs        []string
	output        string
	removeSilence bool
}

// stubMerger writes an output whose duration is the sum of its inputs.
type stubMerger struct {
	files    *memFiles
	progress []int
	err      error
	block    bool
	started  chan string

	mu    sync.Mutex
	calls []mergeCall
}

func (m *stubMerger) Merge(ctx context.Context, inputPaths []string, outputPath string, removeSilence bool, onProgress func(int)) error {
	m.mu.Lock()
	m.calls = append(m.calls, mergeCall{inputs: append([]string(nil), inputPaths...), output: outputPath, removeSilence: removeSilence})
	m.mu.Unlock()
	if m.started != nil {
		m.started <- outputPath
	}

	var total float64
	for _, path := range inputPaths {
		meta, err := m.files.Probe(ctx, path)
		if err != nil {
			return media.FilesystemError("stat input", path, err)
		}
		total += meta.DurationSeconds
	}
	for _, value := range m.progress {
		onProgress(value)
	}
	m.files.put(outputPath, bytes.Repeat([]byte{0xff}, 64))

	if m.block {
		<-ctx.Done()
		return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
	}
	if m.err != nil {
		return m.err
	}
	m.files.mu.Lock()
	m.files.meta[outputPath] = media.Metadata{DurationSeconds: total, BitRate: 192000, SampleRate: 44100, Codec: "mp3"}
	m.files.mu.Unlock()
	onProgress(100)
	return nil
}

func (m *stubMerger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type harness struct {
	repo    *memRepo
	files   *memFiles
	merger  *stubMerger
	manager *JobManager
	assets  *AssetService
}

func newHarness(t *testing.T, opts ManagerOptions) *harness {
	t.Helper()
	repo := newMemRepo()
	files := newMemFiles()
	merger := &stubMerger{files: files}
	h := &harness{
		repo:    repo,
		files:   files,
		merger:  merger,
		manager: NewJobManager(repo, repo, files, files, merger, zerolog.Nop(), opts),
		assets:  NewAssetService(repo, repo, files, files, zerolog.Nop(), 1<<10),
	}
	h.manager.writeRetry = time.Millisecond
	t.Cleanup(h.manager.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func (h *harness) seedAsset(t *testing.T, id, owner string, duration float64) media.Asset {
	t.Helper()
	name, err := h.files.NewName(id+".wav", "audio/wav")
	if err != nil {
		t.Fatalf("NewName failed: %v", err)
	}
	asset := media.Asset{
		ID:           id,
		Kind:         media.AssetUpload,
		StorageName:  name,
		OriginalName: id + ".wav",
		Size:         16,
		MIMEType:     "audio/wav",
		Metadata:     media.Metadata{DurationSeconds: duration},
		UploaderID:   owner,
		UploadedAt:   time.Now(),
	}
	path, _ := h.files.Path(asset.Kind, name)
	h.files.put(path, make([]byte, 16))
	h.files.meta[path] = asset.Metadata
	_ = h.repo.CreateAsset(context.Background(), asset)
	return asset
}

func (h *harness) waitTerminal(t *testing.T, id string) media.MergeJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.repo.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status", id)
	return media.MergeJob{}
}

func sameStatuses(got []media.JobStatus, want ...media.JobStatus) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
