package main

import (
	"fmt"

	"github.com/MrCodeEU/rollcall/pkg/storage"
	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect or seal the reference embedding store",
}

var storeInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the enrolled identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Load(cfg.Storage.EncodingsFile, cfg.Storage.EncryptionEnabled)
		if err != nil {
			return err
		}

		labels, counts := store.Labels()
		fmt.Printf("Reference store: %s\n", cfg.Storage.EncodingsFile)
		fmt.Printf("  Sealed:      %t\n", cfg.Storage.EncryptionEnabled)
		fmt.Printf("  Embeddings:  %d (dimension %d)\n", store.Len(), store.Dimension())
		fmt.Printf("  Identities:  %d\n", len(labels))
		fmt.Println()

		for _, label := range labels {
			warn := ""
			if counts[label] < cfg.Recognition.MinVotes {
				warn = fmt.Sprintf("  (fewer than min_votes=%d, can never be recognized)", cfg.Recognition.MinVotes)
			}
			fmt.Printf("  %-30s %3d%s\n", label, counts[label], warn)
		}
		return nil
	},
}

var storeSealCmd = &cobra.Command{
	Use:   "seal <in> <out>",
	Short: "Write a sealed copy of a plain reference store, bound to this machine",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Load(args[0], false)
		if err != nil {
			return err
		}
		if err := storage.Save(args[1], store, true); err != nil {
			return err
		}
		fmt.Printf("Sealed %d embeddings into %s\n", store.Len(), args[1])
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeInfoCmd, storeSealCmd)
	rootCmd.AddCommand(storeCmd)
}
