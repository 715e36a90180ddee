package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/albert775f/myteamberlin/internal/infrastructure/ffmpeg"
)

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var output string
	var removeSilence bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "merge [flags] INPUT INPUT...",
		Short: "Merge local audio files into one MP3 without the server",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(output) == "" {
				return fmt.Errorf("--output is required")
			}
			if !strings.EqualFold(filepath.Ext(output), ffmpeg.OutputExt) {
				output += ffmpeg.OutputExt
			}
			if timeout <= 0 {
				timeout = cfg.MergeTimeout()
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			runCtx, cancel := context.WithTimeout(runCtx, timeout)
			defer cancel()

			merger := ffmpeg.NewMerger(cfg.FFmpegBinary, ffmpeg.NewProber(cfg.FFprobeBinary))
			progress := newProgressPrinter(cmd.OutOrStdout())
			if err := merger.Merge(runCtx, args, output, removeSilence, progress.update); err != nil {
				progress.finish()
				return err
			}
			progress.finish()
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (.mp3)")
	cmd.Flags().BoolVar(&removeSilence, "remove-silence", false, "Strip long silences from every input before joining")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort after this duration (default merge_timeout_minutes)")
	return cmd
}

// progressPrinter redraws one line on terminals and prints every tenth
// percent otherwise.
type progressPrinter struct {
	out      io.Writer
	terminal bool
	last     int
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	terminal := false
	if f, ok := out.(*os.File); ok {
		fd := f.Fd()
		terminal = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return &progressPrinter{out: out, terminal: terminal, last: -1}
}

func (p *progressPrinter) update(percent int) {
	if p.terminal {
		fmt.Fprintf(p.out, "\rMerging %3d%%", percent)
		p.last = percent
		return
	}
	if percent == 100 || percent/10 > p.last/10 {
		fmt.Fprintf(p.out, "Merging %d%%\n", percent)
		p.last = percent
	}
}

func (p *progressPrinter) finish() {
	if p.terminal && p.last >= 0 {
		fmt.Fprintln(p.out)
	}
}
