package media

import (
	"context"
	"io"
	"time"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

// AssetRepository is an application port for asset persistence.
type AssetRepository interface {
	CreateAsset(ctx context.Context, asset media.Asset) error
	GetAsset(ctx context.Context, id string) (media.Asset, error)
	ListAssets(ctx context.Context, uploaderID string) ([]media.Asset, error)
	DeleteAsset(ctx context.Context, id string) (bool, error)
	StorageNames(ctx context.Context, kind media.AssetKind) (map[string]bool, error)
}

// JobRepository is an application port for merge job persistence. Status
// transitions are guarded so a row only moves along allowed edges.
type JobRepository interface {
	CreateJob(ctx context.Context, job media.MergeJob) error
	GetJob(ctx context.Context, id string) (media.MergeJob, error)
	ListJobs(ctx context.Context, creatorID string) ([]media.MergeJob, error)
	ListJobsByStatus(ctx context.Context, statuses ...media.JobStatus) ([]media.MergeJob, error)
	HasActiveReference(ctx context.Context, assetID string) (bool, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	MarkCompleted(ctx context.Context, id, outputAssetID string, completedAt time.Time) error
	MarkFailed(ctx context.Context, id, message string, completedAt time.Time) error
	MarkCancelled(ctx context.Context, id, message string, completedAt time.Time) error
}

// FileStore is an application port for stored audio files. Paths are only
// ever derived from names it generated.
type FileStore interface {
	NewName(originalName, mimeType string) (string, error)
	Path(kind media.AssetKind, name string) (string, error)
	Write(ctx context.Context, name string, r io.Reader, limit int64) (int64, error)
	Stat(kind media.AssetKind, name string) (int64, error)
	Remove(kind media.AssetKind, name string) (bool, error)
	ListOutputs() ([]media.StoredFile, error)
}

// Prober reads advisory audio metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Metadata, error)
}

// Merger combines input files into one encoded output.
type Merger interface {
	Merge(ctx context.Context, inputPaths []string, outputPath string, removeSilence bool, onProgress func(int)) error
}
