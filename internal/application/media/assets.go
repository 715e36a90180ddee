package media

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

// UploadRequest carries a client upload into AssetService.Upload.
type UploadRequest struct {
	UploaderID   string
	OriginalName string
	MIMEType     string
	Body         io.Reader
}

// AssetService handles upload, lookup and deletion of stored audio assets.
type AssetService struct {
	assets   AssetRepository
	jobs     JobRepository
	files    FileStore
	prober   Prober
	logger   zerolog.Logger
	maxBytes int64
	now      func() time.Time
}

// NewAssetService creates an asset use-case service with injected ports.
// maxBytes is capped at media.MaxUploadBytes.
func NewAssetService(assets AssetRepository, jobs JobRepository, files FileStore, prober Prober, logger zerolog.Logger, maxBytes int64) *AssetService {
	if maxBytes <= 0 || maxBytes > media.MaxUploadBytes {
		maxBytes = media.MaxUploadBytes
	}
	return &AssetService{
		assets:   assets,
		jobs:     jobs,
		files:    files,
		prober:   prober,
		logger:   logger,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Upload validates and stores an audio file, then records it as an asset.
// Metadata extraction is best-effort and never fails the upload.
func (s *AssetService) Upload(ctx context.Context, req UploadRequest) (media.Asset, error) {
	uploaderID := strings.TrimSpace(req.UploaderID)
	if uploaderID == "" {
		return media.Asset{}, media.ValidationError("uploader id is required")
	}
	if req.Body == nil {
		return media.Asset{}, media.ValidationError("upload body is required")
	}
	mimeType, err := media.NormalizeAudioMIME(req.MIMEType)
	if err != nil {
		return media.Asset{}, err
	}

	originalName := media.DisplayName(req.OriginalName)
	name, err := s.files.NewName(originalName, mimeType)
	if err != nil {
		return media.Asset{}, err
	}
	size, err := s.files.Write(ctx, name, req.Body, s.maxBytes)
	if err != nil {
		return media.Asset{}, err
	}
	if originalName == "" {
		originalName = name
	}

	asset := media.Asset{
		ID:           uuid.NewString(),
		Kind:         media.AssetUpload,
		StorageName:  name,
		OriginalName: originalName,
		Size:         size,
		MIMEType:     mimeType,
		Metadata:     s.extractMetadata(ctx, media.AssetUpload, name),
		UploaderID:   uploaderID,
		UploadedAt:   s.now().UTC(),
	}
	if err := s.assets.CreateAsset(ctx, asset); err != nil {
		s.removeFile(media.AssetUpload, name)
		return media.Asset{}, err
	}

	s.logger.Info().
		Str("asset_id", asset.ID).
		Str("storage_name", name).
		Int64("size", size).
		Str("uploader_id", uploaderID).
		Msg("asset uploaded")
	return asset, nil
}

// Get returns a snapshot of an asset uploaded by requesterID.
func (s *AssetService) Get(ctx context.Context, requesterID, id string) (media.Asset, error) {
	asset, err := s.assets.GetAsset(ctx, strings.TrimSpace(id))
	if err != nil {
		return media.Asset{}, err
	}
	if !asset.OwnedBy(strings.TrimSpace(requesterID)) {
		return media.Asset{}, media.ForbiddenError("asset %q belongs to another user", asset.ID)
	}
	return asset, nil
}

// List returns the uploader's assets, newest first.
func (s *AssetService) List(ctx context.Context, uploaderID string) ([]media.Asset, error) {
	uploaderID = strings.TrimSpace(uploaderID)
	if uploaderID == "" {
		return nil, media.ValidationError("uploader id is required")
	}
	return s.assets.ListAssets(ctx, uploaderID)
}

// ResolvePath returns the on-disk location of an asset's file.
func (s *AssetService) ResolvePath(asset media.Asset) (string, error) {
	return s.files.Path(asset.Kind, asset.StorageName)
}

// Delete removes an asset owned by requesterID. An unknown id reports
// (false, nil). Assets still referenced by a pending or processing merge are
// refused with a conflict. File removal failures are logged only.
func (s *AssetService) Delete(ctx context.Context, requesterID, assetID string) (bool, error) {
	asset, err := s.assets.GetAsset(ctx, strings.TrimSpace(assetID))
	if media.IsKind(err, media.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !asset.OwnedBy(strings.TrimSpace(requesterID)) {
		return false, media.ForbiddenError("asset %q belongs to another user", asset.ID)
	}

	referenced, err := s.jobs.HasActiveReference(ctx, asset.ID)
	if err != nil {
		return false, err
	}
	if referenced {
		return false, media.ConflictError("asset %q is used by an active merge", asset.ID)
	}

	deleted, err := s.assets.DeleteAsset(ctx, asset.ID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.removeFile(asset.Kind, asset.StorageName)
		s.logger.Info().Str("asset_id", asset.ID).Str("storage_name", asset.StorageName).Msg("asset deleted")
	}
	return deleted, nil
}

func (s *AssetService) extractMetadata(ctx context.Context, kind media.AssetKind, name string) media.Metadata {
	path, err := s.files.Path(kind, name)
	if err != nil {
		return media.Metadata{}
	}
	meta, err := s.prober.Probe(ctx, path)
	if err != nil {
		s.logger.Warn().Err(err).Str("storage_name", name).Msg("metadata extraction failed")
		return media.Metadata{}
	}
	return meta
}

func (s *AssetService) removeFile(kind media.AssetKind, name string) {
	if _, err := s.files.Remove(kind, name); err != nil {
		s.logger.Warn().Err(err).Str("storage_name", name).Msg("stored file removal failed")
	}
}
