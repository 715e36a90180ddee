package media

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

// Janitor removes generated outputs that no asset references, such as files
// left by a crashed merge. Files younger than the grace period and outputs of
// running jobs are kept.
type Janitor struct {
	assets AssetRepository
	files  FileStore
	active func() map[string]bool
	grace  time.Duration
	logger zerolog.Logger
	now    func() time.Time

	cron *cron.Cron
}

// NewJanitor creates an output janitor. active reports outputs still being written.
func NewJanitor(assets AssetRepository, files FileStore, active func() map[string]bool, grace time.Duration, logger zerolog.Logger) *Janitor {
	if active == nil {
		active = func() map[string]bool { return nil }
	}
	return &Janitor{
		assets: assets,
		files:  files,
		active: active,
		grace:  grace,
		logger: logger,
		now:    time.Now,
	}
}

// Sweep runs one cleanup pass and returns the number of removed files.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	files, err := j.files.ListOutputs()
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}
	known, err := j.assets.StorageNames(ctx, media.AssetMergeOutput)
	if err != nil {
		return 0, err
	}
	active := j.active()
	cutoff := j.now().Add(-j.grace)

	removed := 0
	for _, file := range files {
		if known[file.Name] || active[file.Name] || file.ModifiedAt.After(cutoff) {
			continue
		}
		ok, err := j.files.Remove(media.AssetMergeOutput, file.Name)
		if err != nil {
			j.logger.Warn().Err(err).Str("storage_name", file.Name).Msg("orphaned output removal failed")
			continue
		}
		if ok {
			removed++
			j.logger.Info().Str("storage_name", file.Name).Int64("size", file.Size).Msg("orphaned output removed")
		}
	}
	return removed, nil
}

// Start schedules Sweep with a cron spec such as "@every 30m".
func (j *Janitor) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Error().Err(err).Msg("output janitor sweep failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	j.cron = c
	j.logger.Info().Str("schedule", schedule).Dur("grace", j.grace).Msg("output janitor scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}
