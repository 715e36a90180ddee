package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

func (m *JobManager) worker(ctx context.Context) {
	for {
		// Once the pool is stopping, queued jobs stay pending for Recover.
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.process(ctx, id)
		}
	}
}

// process drives one job to a terminal status. Writes use a context detached
// from pool cancellation so shutdown can still record the outcome. A job
// dequeued after the pool stopped is left pending.
func (m *JobManager) process(poolCtx context.Context, id string) {
	if poolCtx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithCancelCause(poolCtx)
	defer cancel(nil)
	writeCtx := context.WithoutCancel(poolCtx)
	log := m.logger.With().Str("job_id", id).Logger()

	m.mu.Lock()
	if m.cancelRequested[id] {
		delete(m.cancelRequested, id)
		m.mu.Unlock()
		m.finish(writeCtx, log, id, media.StatusCancelled, errCancelledByUser.Error())
		return
	}
	running := &runningJob{cancel: cancel}
	m.running[id] = running
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, id)
		delete(m.cancelRequested, id)
		m.mu.Unlock()
	}()

	job, err := m.jobs.GetJob(writeCtx, id)
	if err != nil {
		log.Error().Err(err).Msg("queued merge job could not be loaded")
		return
	}
	if job.Status != media.StatusPending {
		log.Warn().Str("status", string(job.Status)).Msg("skipping merge job that is no longer pending")
		return
	}

	inputPaths, err := m.resolveInputs(writeCtx, job)
	if err != nil {
		m.finish(writeCtx, log, id, media.StatusFailed, err.Error())
		return
	}
	if jobCtx.Err() != nil {
		if poolCtx.Err() != nil {
			log.Info().Msg("merge job left pending for restart")
			return
		}
		m.finishInterrupted(writeCtx, log, id, jobCtx, nil)
		return
	}

	outputName, err := m.files.NewName("merge.mp3", outputMIME)
	if err != nil {
		m.finish(writeCtx, log, id, media.StatusFailed, err.Error())
		return
	}
	outputPath, err := m.files.Path(media.AssetMergeOutput, outputName)
	if err != nil {
		m.finish(writeCtx, log, id, media.StatusFailed, err.Error())
		return
	}
	m.mu.Lock()
	running.outputName = outputName
	m.mu.Unlock()

	if err := m.persist(writeCtx, func(ctx context.Context) error {
		return m.jobs.MarkProcessing(ctx, id, m.now().UTC())
	}); err != nil {
		log.Error().Err(err).Msg("failed to mark merge job processing")
		m.finish(writeCtx, log, id, media.StatusFailed, fmt.Sprintf("record processing: %v", err))
		return
	}
	log.Info().Int("inputs", len(inputPaths)).Str("storage_name", outputName).Msg("merge job started")

	runCtx, stopTimer := context.WithTimeoutCause(jobCtx, m.opts.Timeout, errMergeTimeout)
	defer stopTimer()

	last := 0
	mergeErr := m.merger.Merge(runCtx, inputPaths, outputPath, job.RemoveSilence, func(progress int) {
		progress = media.ClampProgress(progress)
		if progress <= last {
			return
		}
		last = progress
		if err := m.jobs.UpdateProgress(writeCtx, id, progress); err != nil {
			log.Warn().Err(err).Int("progress", progress).Msg("progress update failed")
		}
	})
	if mergeErr != nil {
		m.removeOutput(log, outputName)
		if runCtx.Err() != nil {
			m.finishInterrupted(writeCtx, log, id, runCtx, mergeErr)
			return
		}
		m.finish(writeCtx, log, id, media.StatusFailed, mergeErr.Error())
		return
	}

	asset, err := m.registerOutput(writeCtx, job, outputName, outputPath)
	if err != nil {
		m.removeOutput(log, outputName)
		m.finish(writeCtx, log, id, media.StatusFailed, err.Error())
		return
	}
	if err := m.persist(writeCtx, func(ctx context.Context) error {
		return m.jobs.MarkCompleted(ctx, id, asset.ID, m.now().UTC())
	}); err != nil {
		log.Error().Err(err).Str("asset_id", asset.ID).Msg("failed to mark merge job completed")
		m.discardOutput(writeCtx, log, asset)
		m.finish(writeCtx, log, id, media.StatusFailed, fmt.Sprintf("record completion: %v", err))
		return
	}
	log.Info().Str("asset_id", asset.ID).Str("storage_name", outputName).Msg("merge job completed")
}

// resolveInputs maps every input id to its stored path. Any unknown id fails
// the whole job before the engine is started.
func (m *JobManager) resolveInputs(ctx context.Context, job media.MergeJob) ([]string, error) {
	paths := make([]string, 0, len(job.InputAssetIDs))
	for _, assetID := range job.InputAssetIDs {
		asset, err := m.assets.GetAsset(ctx, assetID)
		if err != nil {
			if media.IsKind(err, media.KindNotFound) {
				return nil, fmt.Errorf("input asset %q not found", assetID)
			}
			return nil, fmt.Errorf("resolve input asset %q: %w", assetID, err)
		}
		path, err := m.files.Path(asset.Kind, asset.StorageName)
		if err != nil {
			return nil, fmt.Errorf("resolve input asset %q: %w", assetID, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (m *JobManager) registerOutput(ctx context.Context, job media.MergeJob, name, path string) (media.Asset, error) {
	size, err := m.files.Stat(media.AssetMergeOutput, name)
	if err != nil {
		return media.Asset{}, err
	}
	meta, err := m.prober.Probe(ctx, path)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Str("storage_name", name).Msg("metadata extraction failed")
		meta = media.Metadata{}
	}
	shortID := job.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	asset := media.Asset{
		ID:           uuid.NewString(),
		Kind:         media.AssetMergeOutput,
		StorageName:  name,
		OriginalName: "merge-" + shortID + ".mp3",
		Size:         size,
		MIMEType:     outputMIME,
		Metadata:     meta,
		UploaderID:   job.CreatorID,
		UploadedAt:   m.now().UTC(),
	}
	if err := m.assets.CreateAsset(ctx, asset); err != nil {
		return media.Asset{}, fmt.Errorf("register output asset: %w", err)
	}
	return asset, nil
}

// finishInterrupted records the terminal status matching why ctx ended.
func (m *JobManager) finishInterrupted(ctx context.Context, log zerolog.Logger, id string, jobCtx context.Context, mergeErr error) {
	cause := context.Cause(jobCtx)
	switch {
	case errors.Is(cause, errCancelledByUser):
		m.finish(ctx, log, id, media.StatusCancelled, errCancelledByUser.Error())
	case errors.Is(cause, errMergeTimeout):
		m.finish(ctx, log, id, media.StatusFailed, fmt.Sprintf("%s after %s", errMergeTimeout, m.opts.Timeout))
	case errors.Is(cause, errServerStopped):
		m.finish(ctx, log, id, media.StatusFailed, errServerStopped.Error())
	case mergeErr != nil:
		m.finish(ctx, log, id, media.StatusFailed, mergeErr.Error())
	default:
		m.finish(ctx, log, id, media.StatusFailed, cause.Error())
	}
}

func (m *JobManager) finish(ctx context.Context, log zerolog.Logger, id string, status media.JobStatus, message string) {
	err := m.persist(ctx, func(ctx context.Context) error {
		if status == media.StatusCancelled {
			return m.jobs.MarkCancelled(ctx, id, message, m.now().UTC())
		}
		return m.jobs.MarkFailed(ctx, id, message, m.now().UTC())
	})
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("failed to record merge job outcome")
		return
	}
	if status == media.StatusCancelled {
		log.Info().Msg("merge job cancelled")
		return
	}
	log.Warn().Str("error", message).Msg("merge job failed")
}

func (m *JobManager) removeOutput(log zerolog.Logger, name string) {
	if _, err := m.files.Remove(media.AssetMergeOutput, name); err != nil {
		log.Warn().Err(err).Str("storage_name", name).Msg("partial output removal failed")
	}
}

// persist runs a job state write, retrying with backoff so a transient
// storage error does not strand the job in a non-terminal status.
func (m *JobManager) persist(ctx context.Context, write func(context.Context) error) error {
	delay := m.writeRetry
	for attempt := 1; ; attempt++ {
		err := write(ctx)
		if err == nil || attempt == stateWriteAttempts {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
}

// discardOutput drops a registered output whose job could not be completed.
// The file is kept when its asset row cannot be removed.
func (m *JobManager) discardOutput(ctx context.Context, log zerolog.Logger, asset media.Asset) {
	if _, err := m.assets.DeleteAsset(ctx, asset.ID); err != nil {
		log.Warn().Err(err).Str("asset_id", asset.ID).Msg("output asset removal failed")
		return
	}
	m.removeOutput(log, asset.StorageName)
}
