package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

const jobColumns = "id, creator_id, input_asset_ids, remove_silence, status, progress, output_asset_id, error_message, created_at, started_at, completed_at"

// ErrStaleTransition is returned when a job row is no longer in the status a
// transition expects.
var ErrStaleTransition = errors.New("job is not in the expected status")

// CreateJob inserts a new merge job.
func (s *Store) CreateJob(ctx context.Context, job media.MergeJob) error {
	inputs, err := json.Marshal(job.InputAssetIDs)
	if err != nil {
		return fmt.Errorf("encode input ids: %w", err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO merge_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.CreatorID,
		string(inputs),
		boolToInt(job.RemoveSilence),
		string(job.Status),
		job.Progress,
		nullableString(job.OutputAssetID),
		nullableString(job.Error),
		formatTime(job.CreatedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job snapshot by id.
func (s *Store) GetJob(ctx context.Context, id string) (media.MergeJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM merge_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return media.MergeJob{}, media.NotFoundError("merge job", id)
	}
	if err != nil {
		return media.MergeJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first. An empty creatorID lists every job.
func (s *Store) ListJobs(ctx context.Context, creatorID string) ([]media.MergeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM merge_jobs`
	var args []any
	if creatorID != "" {
		query += ` WHERE creator_id = ?`
		args = append(args, creatorID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	return s.queryJobs(ctx, query, args...)
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...media.JobStatus) ([]media.MergeJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	query := `SELECT ` + jobColumns + ` FROM merge_jobs WHERE status IN (` + makePlaceholders(len(statuses)) + `) ORDER BY created_at ASC, rowid ASC`
	return s.queryJobs(ctx, query, args...)
}

// HasActiveReference reports whether a pending or processing job lists assetID as an input.
func (s *Store) HasActiveReference(ctx context.Context, assetID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM merge_jobs, json_each(merge_jobs.input_asset_ids)
		 WHERE merge_jobs.status IN (?, ?) AND json_each.value = ?`,
		string(media.StatusPending), string(media.StatusProcessing), assetID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check job references: %w", err)
	}
	return count > 0, nil
}

// MarkProcessing moves a pending job to processing.
func (s *Store) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	return s.transition(ctx,
		`UPDATE merge_jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(media.StatusProcessing), formatTime(startedAt), id, string(media.StatusPending),
	)
}

// UpdateProgress raises the stored progress of a processing job. Lower values are ignored.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int) error {
	progress = media.ClampProgress(progress)
	_, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET progress = ? WHERE id = ? AND status = ? AND progress < ?`,
		progress, id, string(media.StatusProcessing), progress,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// MarkCompleted records the output asset and finishes a processing job.
func (s *Store) MarkCompleted(ctx context.Context, id, outputAssetID string, completedAt time.Time) error {
	return s.transition(ctx,
		`UPDATE merge_jobs SET status = ?, progress = 100, output_asset_id = ?, error_message = NULL, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(media.StatusCompleted), outputAssetID, formatTime(completedAt), id, string(media.StatusProcessing),
	)
}

// MarkFailed finishes a pending or processing job with an error message.
func (s *Store) MarkFailed(ctx context.Context, id, message string, completedAt time.Time) error {
	return s.finish(ctx, id, media.StatusFailed, message, completedAt)
}

// MarkCancelled finishes a pending or processing job as cancelled.
func (s *Store) MarkCancelled(ctx context.Context, id, message string, completedAt time.Time) error {
	return s.finish(ctx, id, media.StatusCancelled, message, completedAt)
}

func (s *Store) finish(ctx context.Context, id string, status media.JobStatus, message string, completedAt time.Time) error {
	return s.transition(ctx,
		`UPDATE merge_jobs SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(status), message, formatTime(completedAt), id,
		string(media.StatusPending), string(media.StatusProcessing),
	)
}

func (s *Store) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows: %w", err)
	}
	if affected == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]media.MergeJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []media.MergeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner rowScanner) (media.MergeJob, error) {
	var (
		job           media.MergeJob
		inputsRaw     string
		removeSilence int
		status        string
		outputAssetID sql.NullString
		errorMessage  sql.NullString
		createdRaw    string
		startedRaw    sql.NullString
		completedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.CreatorID,
		&inputsRaw,
		&removeSilence,
		&status,
		&job.Progress,
		&outputAssetID,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return media.MergeJob{}, err
	}
	if err := json.Unmarshal([]byte(inputsRaw), &job.InputAssetIDs); err != nil {
		return media.MergeJob{}, fmt.Errorf("decode input ids: %w", err)
	}
	job.RemoveSilence = removeSilence != 0
	job.Status = media.JobStatus(status)
	job.OutputAssetID = outputAssetID.String
	job.Error = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	job.StartedAt = parseNullTime(startedRaw)
	job.CompletedAt = parseNullTime(completedRaw)
	return job, nil
}
