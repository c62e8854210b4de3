package main

import (
	"fmt"
	"os"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/pipeline"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var replayAsync bool

var replayCmd = &cobra.Command{
	Use:   "replay <video|dir>",
	Short: "Run verification over a recorded video or a directory of JPEG frames",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayAsync, "async", false, "Detect on a background worker as in live mode (frames may be dropped)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	input := args[0]

	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", input, err)
	}

	var (
		src   camera.Source
		total int
	)
	if info.IsDir() {
		dirSrc, err := camera.OpenDir(input)
		if err != nil {
			return err
		}
		src, total = dirSrc, dirSrc.Len()
	} else {
		fileSrc, err := camera.OpenFile(ctx, input)
		if err != nil {
			return err
		}
		src, total = fileSrc, camera.FrameCount(input)
	}
	defer src.Close()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Replaying"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	opts := pipeline.OptionsFromConfig(cfg)
	opts.AsyncDetection = replayAsync
	opts.FrameHook = func(pipeline.Overlay) { bar.Add(1) }

	orch := pipeline.New(opts, rt.deps)
	err = orch.Run(ctx, src)
	bar.Finish()

	printSummary(orch.Stats())
	return err
}
