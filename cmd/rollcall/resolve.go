package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/MrCodeEU/rollcall/pkg/directory"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <label>...",
	Short: "Show the directory record each recognizer label resolves to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := directory.Load(cfg.Storage.DirectoryFile)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LABEL\tNAME\tID\tORGANIZATION\tMATCHED")
		for _, label := range args {
			r := dir.Resolve(label)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", label, r.OfficialName, r.UniqueID, r.Organization, !r.Placeholder)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
