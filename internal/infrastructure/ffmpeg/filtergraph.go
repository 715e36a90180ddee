package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Output encoding is fixed for every merge.
const (
	OutputCodec   = "libmp3lame"
	OutputBitrate = "192k"
	OutputExt     = ".mp3"
	OutputMIME    = "audio/mpeg"
	outputLabel   = "out"
)

// SilenceParams configures the per-input silenceremove filter.
type SilenceParams struct {
	MinDurationSeconds float64
	ThresholdDB        float64
}

// DefaultSilence strips runs of five seconds or more below -50 dB.
var DefaultSilence = SilenceParams{MinDurationSeconds: 5, ThresholdDB: -50}

// Graph is a typed filter graph description. Only the variants in this
// package implement it.
type Graph interface {
	InputCount() int
	render(b *strings.Builder)
}

// ConcatGraph concatenates every input's audio stream in order.
type ConcatGraph struct {
	Inputs int
}

// SilenceStripConcatGraph passes each input through silenceremove before
// concatenating the intermediate streams in order.
type SilenceStripConcatGraph struct {
	Inputs  int
	Silence SilenceParams
}

// InputCount implements Graph.
func (g ConcatGraph) InputCount() int { return g.Inputs }

// InputCount implements Graph.
func (g SilenceStripConcatGraph) InputCount() int { return g.Inputs }

func (g ConcatGraph) render(b *strings.Builder) {
	labels := make([]string, g.Inputs)
	for i := 0; i < g.Inputs; i++ {
		labels[i] = inputAudioLabel(i)
	}
	writeConcat(b, labels)
}

func (g SilenceStripConcatGraph) render(b *strings.Builder) {
	labels := make([]string, g.Inputs)
	for i := 0; i < g.Inputs; i++ {
		labels[i] = "s" + strconv.Itoa(i)
		b.WriteString("[")
		b.WriteString(inputAudioLabel(i))
		b.WriteString("]silenceremove=stop_periods=-1:stop_duration=")
		b.WriteString(formatNumber(g.Silence.MinDurationSeconds))
		b.WriteString(":stop_threshold=")
		b.WriteString(formatNumber(g.Silence.ThresholdDB))
		b.WriteString("dB[")
		b.WriteString(labels[i])
		b.WriteString("];")
	}
	writeConcat(b, labels)
}

func writeConcat(b *strings.Builder, labels []string) {
	for _, label := range labels {
		b.WriteString("[")
		b.WriteString(label)
		b.WriteString("]")
	}
	fmt.Fprintf(b, "concat=n=%d:v=0:a=1[%s]", len(labels), outputLabel)
}

func inputAudioLabel(index int) string {
	return strconv.Itoa(index) + ":a"
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NewGraph selects the graph variant for n inputs.
func NewGraph(n int, removeSilence bool) Graph {
	if removeSilence {
		return SilenceStripConcatGraph{Inputs: n, Silence: DefaultSilence}
	}
	return ConcatGraph{Inputs: n}
}

// Render serializes a graph into a -filter_complex expression.
func Render(g Graph) string {
	var b strings.Builder
	g.render(&b)
	return b.String()
}

// Plan is everything the engine needs besides the output path.
type Plan struct {
	Inputs        []string
	FilterComplex string
	Map           string
}

// ErrNoInputs is returned when a plan is requested for an empty input list.
var ErrNoInputs = errors.New("filter graph requires at least one input")

// BuildPlan turns ordered input paths and the silence flag into a merge
// plan. It has no side effects and is deterministic.
func BuildPlan(inputs []string, removeSilence bool) (Plan, error) {
	if len(inputs) == 0 {
		return Plan{}, ErrNoInputs
	}
	return Plan{
		Inputs:        append([]string(nil), inputs...),
		FilterComplex: Render(NewGraph(len(inputs), removeSilence)),
		Map:           "[" + outputLabel + "]",
	}, nil
}

// Args renders the full ffmpeg argument list writing to outputPath with
// machine-readable progress on stdout.
func (p Plan) Args(outputPath string) []string {
	args := make([]string, 0, 2*len(p.Inputs)+16)
	args = append(args, "-hide_banner", "-nostdin", "-y")
	for _, input := range p.Inputs {
		args = append(args, "-i", input)
	}
	args = append(args,
		"-filter_complex", p.FilterComplex,
		"-map", p.Map,
		"-c:a", OutputCodec,
		"-b:a", OutputBitrate,
		"-progress", "pipe:1",
		"-nostats",
		outputPath,
	)
	return args
}
