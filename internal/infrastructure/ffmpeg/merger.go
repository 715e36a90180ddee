package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

const (
	diagnosticLimit       = 4 << 10
	defaultInterruptGrace = 5 * time.Second
)

// DurationProber reports the playback length of a file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Merger drives ffmpeg to concatenate audio inputs into one output.
type Merger struct {
	Binary string
	Probe  DurationProber
	// InterruptGrace is how long ffmpeg may take to exit after SIGINT
	// before it is killed.
	InterruptGrace time.Duration
}

// NewMerger creates the ffmpeg merge adapter. probe may be nil, in which case
// progress is only reported on completion.
func NewMerger(binary string, probe DurationProber) *Merger {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Merger{Binary: binary, Probe: probe, InterruptGrace: defaultInterruptGrace}
}

// Merge concatenates inputPaths in order into outputPath, optionally stripping
// long silences, and reports percent complete through onProgress. A partially
// written output is left in place on failure.
func (m *Merger) Merge(ctx context.Context, inputPaths []string, outputPath string, removeSilence bool, onProgress func(int)) error {
	for _, input := range inputPaths {
		info, err := os.Stat(input)
		if err != nil {
			return media.FilesystemError("merge input", input, err)
		}
		if !info.Mode().IsRegular() {
			return media.FilesystemError("merge input", input, errors.New("not a regular file"))
		}
	}

	plan, err := BuildPlan(inputPaths, removeSilence)
	if err != nil {
		return media.ValidationError("%v", err)
	}

	totalMicros := m.totalMicros(ctx, inputPaths)

	cmd := exec.CommandContext(ctx, m.Binary, plan.Args(outputPath)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = m.InterruptGrace
	progressReader, progressWriter := io.Pipe()
	cmd.Stdout = progressWriter
	stderr := &tailBuffer{limit: diagnosticLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = progressWriter.Close()
		return media.ExecutionError("ffmpeg start", err, "")
	}

	// Progress is parsed on a helper goroutine but delivered to onProgress
	// from this one, so the caller sees every callback on its own goroutine.
	updates := make(chan int, 16)
	readDone := make(chan error, 1)
	go func() {
		err := readProgress(progressReader, totalMicros, func(p int) { updates <- p })
		_, _ = io.Copy(io.Discard, progressReader)
		readDone <- err
		close(updates)
	}()
	waitDone := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = progressWriter.Close()
		waitDone <- err
	}()

	for percent := range updates {
		if onProgress != nil {
			onProgress(percent)
		}
	}
	readErr := <-readDone
	waitErr := <-waitDone

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
	}
	if waitErr != nil {
		return media.ExecutionError("ffmpeg", waitErr, stderr.String())
	}
	if readErr != nil {
		return media.ExecutionError("ffmpeg progress stream", readErr, stderr.String())
	}
	if _, err := os.Stat(outputPath); err != nil {
		return media.FilesystemError("merge output", outputPath, err)
	}

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

func (m *Merger) totalMicros(ctx context.Context, inputs []string) int64 {
	if m.Probe == nil {
		return 0
	}
	var total float64
	for _, input := range inputs {
		seconds, err := m.Probe.Duration(ctx, input)
		if err != nil || seconds <= 0 {
			return 0
		}
		total += seconds
	}
	return int64(total * 1e6)
}

// readProgress consumes ffmpeg's -progress key=value stream. ffmpeg reports
// out_time_ms in microseconds as well, so both keys are read the same way.
func readProgress(r io.Reader, totalMicros int64, onProgress func(int)) error {
	scanner := bufio.NewScanner(r)
	lastProgress := 0
	for scanner.Scan() {
		if totalMicros <= 0 || onProgress == nil {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		if key != "out_time_us" && key != "out_time_ms" {
			continue
		}
		micros, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		percent := int(float64(micros) / float64(totalMicros) * 100)
		if percent < 0 {
			percent = 0
		}
		if percent > 99 {
			percent = 99
		}
		if percent > lastProgress {
			lastProgress = percent
			onProgress(percent)
		}
	}
	return scanner.Err()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
