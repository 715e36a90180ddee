package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

// ProbeResult represents the parsed output from an ffprobe inspection.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes a single stream in the container.
type ProbeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// ProbeFormat captures container-level metadata.
type ProbeFormat struct {
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Prober wraps ffprobe.
type Prober struct {
	Binary string
}

// NewProber creates an ffprobe adapter. An empty binary resolves "ffprobe" from PATH.
func NewProber(binary string) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{Binary: binary}
}

// Inspect executes ffprobe against path and decodes the JSON response.
func (p *Prober) Inspect(ctx context.Context, path string) (ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("ffprobe inspect: empty path")
	}
	cmd := exec.CommandContext(ctx, p.Binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return ProbeResult{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return ProbeResult{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// Probe returns advisory audio metadata for path.
func (p *Prober) Probe(ctx context.Context, path string) (media.Metadata, error) {
	result, err := p.Inspect(ctx, path)
	if err != nil {
		return media.Metadata{}, err
	}
	return result.Metadata(), nil
}

// Duration returns the container duration of path in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	result, err := p.Inspect(ctx, path)
	if err != nil {
		return 0, err
	}
	return result.DurationSeconds(), nil
}

// AudioStream returns the first audio stream, if any.
func (r ProbeResult) AudioStream() (ProbeStream, bool) {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			return stream, true
		}
	}
	return ProbeStream{}, false
}

// DurationSeconds returns the container duration, falling back to the audio
// stream duration, or 0 when unavailable.
func (r ProbeResult) DurationSeconds() float64 {
	if d := parseNumber(r.Format.Duration); d > 0 {
		return d
	}
	if stream, ok := r.AudioStream(); ok {
		return parseNumber(stream.Duration)
	}
	return 0
}

// Metadata maps the probe output onto the domain's advisory metadata.
func (r ProbeResult) Metadata() media.Metadata {
	meta := media.Metadata{
		DurationSeconds: r.DurationSeconds(),
		BitRate:         int64(parseNumber(r.Format.BitRate)),
	}
	if stream, ok := r.AudioStream(); ok {
		meta.Codec = strings.TrimSpace(stream.CodecName)
		meta.SampleRate = int(parseNumber(stream.SampleRate))
		if meta.BitRate == 0 {
			meta.BitRate = int64(parseNumber(stream.BitRate))
		}
	}
	return meta
}

func parseNumber(value string) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed < 0 {
		return 0
	}
	return parsed
}
