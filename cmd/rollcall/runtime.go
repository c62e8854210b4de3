package main

import (
	"context"
	"fmt"

	"github.com/MrCodeEU/rollcall/pkg/attendance"
	"github.com/MrCodeEU/rollcall/pkg/directory"
	"github.com/MrCodeEU/rollcall/pkg/events"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/pipeline"
	"github.com/MrCodeEU/rollcall/pkg/recognition"
	"github.com/MrCodeEU/rollcall/pkg/storage"
)

// runtime holds everything the frame loop needs, opened in dependency order.
type runtime struct {
	deps    pipeline.Deps
	closers []func() error
}

// openRuntime loads the reference data and opens the oracle, ledger and
// publisher. A missing reference store or directory is fatal.
func openRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{}

	store, err := storage.Load(cfg.Storage.EncodingsFile, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference embeddings: %w", err)
	}
	dir, err := directory.Load(cfg.Storage.DirectoryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity directory: %w", err)
	}

	oracle, err := recognition.OpenOracle(cfg.Recognition)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s oracle: %w", cfg.Recognition.Oracle, err)
	}
	rt.closers = append(rt.closers, oracle.Close)

	ledger, err := attendance.Open(ctx, cfg.Attendance)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open attendance ledger: %w", err)
	}
	rt.closers = append(rt.closers, ledger.Close)

	publisher, err := events.Open(cfg.Events)
	if err != nil {
		// Events are best effort.
		logging.Component("events").WithError(err).Warn("Attendance events disabled")
		publisher = events.Nop{}
	}
	rt.closers = append(rt.closers, publisher.Close)

	rt.deps = pipeline.Deps{
		Oracle:    oracle,
		Matcher:   recognition.NewMatcher(store, cfg.Recognition.DistanceThreshold, cfg.Recognition.MinVotes),
		Directory: dir,
		Ledger:    ledger,
		Publisher: publisher,
	}
	return rt, nil
}

// Close releases resources in reverse opening order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			logging.WithError(err).Warn("Error during shutdown")
		}
	}
	rt.closers = nil
}

func printSummary(stats pipeline.Stats) {
	fmt.Println()
	fmt.Println("Session summary:")
	fmt.Printf("  Frames:          %d\n", stats.Frames)
	fmt.Printf("  Oracle runs:     %d (%d errors, %d dropped)\n", stats.OracleRuns, stats.OracleErrors, stats.DroppedFrames)
	fmt.Printf("  Blinks:          %d\n", stats.Confirmations)
	fmt.Printf("  Recorded:        %d\n", stats.Recorded)
	if stats.LedgerFailures > 0 {
		fmt.Printf("  Ledger failures: %d\n", stats.LedgerFailures)
	}
}
