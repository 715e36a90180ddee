package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

const assetColumns = "id, kind, storage_name, original_name, size_bytes, mime_type, duration_seconds, bit_rate, sample_rate, codec, uploader_id, uploaded_at"

// CreateAsset inserts a new asset row.
func (s *Store) CreateAsset(ctx context.Context, asset media.Asset) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ID,
		string(asset.Kind),
		asset.StorageName,
		asset.OriginalName,
		asset.Size,
		asset.MIMEType,
		asset.Metadata.DurationSeconds,
		asset.Metadata.BitRate,
		asset.Metadata.SampleRate,
		asset.Metadata.Codec,
		asset.UploaderID,
		formatTime(asset.UploadedAt),
	)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

// GetAsset fetches an asset by id.
func (s *Store) GetAsset(ctx context.Context, id string) (media.Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return media.Asset{}, media.NotFoundError("asset", id)
	}
	if err != nil {
		return media.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// ListAssets returns assets newest first. An empty uploaderID lists every asset.
func (s *Store) ListAssets(ctx context.Context, uploaderID string) ([]media.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets`
	var args []any
	if uploaderID != "" {
		query += ` WHERE uploader_id = ?`
		args = append(args, uploaderID)
	}
	query += ` ORDER BY uploaded_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []media.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// StorageNames returns the stored file names of every asset of the given kind.
func (s *Store) StorageNames(ctx context.Context, kind media.AssetKind) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT storage_name FROM assets WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list storage names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan storage name: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

// DeleteAsset removes the row and reports whether it existed.
func (s *Store) DeleteAsset(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete asset rows: %w", err)
	}
	return affected > 0, nil
}

func scanAsset(scanner rowScanner) (media.Asset, error) {
	var (
		asset       media.Asset
		kind        string
		uploadedRaw string
	)
	if err := scanner.Scan(
		&asset.ID,
		&kind,
		&asset.StorageName,
		&asset.OriginalName,
		&asset.Size,
		&asset.MIMEType,
		&asset.Metadata.DurationSeconds,
		&asset.Metadata.BitRate,
		&asset.Metadata.SampleRate,
		&asset.Metadata.Codec,
		&asset.UploaderID,
		&uploadedRaw,
	); err != nil {
		return media.Asset{}, err
	}
	asset.Kind = media.AssetKind(kind)
	if uploaded, err := parseTimeString(uploadedRaw); err == nil {
		asset.UploadedAt = uploaded
	}
	return asset, nil
}
