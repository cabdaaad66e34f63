package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/media"
	"github.com/nijaru/yt-analyze/scripts"
)

func newClipCommand(a *app) *cobra.Command {
	var (
		outDir  string
		seconds int
	)

	cmd := &cobra.Command{
		Use:   "clip <video>",
		Short: "Split a video into fixed-length clips",
		Long: `Clip cuts a video into consecutive segments (30 seconds by default) with
ffmpeg. The last clip may be shorter.

Examples:
  yt-analyze clip input.mp4
  yt-analyze clip input.mp4 -o ./clips
  yt-analyze clip input.mp4 -d 60 -o ./clips`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "commands.clip"

			dir := a.cfg.Media.ClipDir
			if cmd.Flags().Changed("output") {
				dir = outDir
			}
			clipLen := a.cfg.Media.ClipDuration
			if cmd.Flags().Changed("duration") {
				if seconds <= 0 {
					return errors.Config(op, nil, "--duration must be positive")
				}
				clipLen = time.Duration(seconds) * time.Second
			}

			exec, err := media.New(a.log, scripts.NewRunner(a.log), a.cfg.Media.FFmpegPath, a.cfg.Media.FFprobePath)
			if err != nil {
				return err
			}

			clips, err := exec.SplitClips(cmd.Context(), args[0], dir, clipLen)
			for _, c := range clips {
				fmt.Fprintln(cmd.OutOrStdout(), c.Path)
			}
			if err != nil {
				return err
			}

			a.log.WithField("clips", len(clips)).WithField("dir", dir).Info("Clipping finished")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", "", "output directory (default $CLIP_DIR)")
	cmd.Flags().IntVarP(&seconds, "duration", "d", 30, "clip length in seconds (default $CLIP_DURATION)")
	return cmd
}
