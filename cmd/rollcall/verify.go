package main

import (
	"context"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/pipeline"
	"github.com/MrCodeEU/rollcall/pkg/status"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run live attendance verification on the camera",
	Long: `Capture frames from the configured camera, recognize enrolled faces and
record attendance for each identity once a blink confirms liveness.
Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	src, err := camera.OpenDevice(ctx, cfg.Camera)
	if err != nil {
		return err
	}
	defer src.Close()

	orch := pipeline.New(pipeline.OptionsFromConfig(cfg), rt.deps)
	logging.Component("verify").Infof("Session %s on %s", orch.Session(), cfg.Camera.Device)

	if cfg.Status.Listen != "" {
		srv := status.NewServer(cfg.Status.Listen, orch, rt.deps.Ledger)
		go func() {
			if err := srv.Start(); err != nil {
				logging.Component("status").WithError(err).Error("Status server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	err = orch.Run(ctx, src)
	printSummary(orch.Stats())
	return err
}
