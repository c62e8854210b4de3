package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/attendance"
	"github.com/spf13/cobra"
)

var ledgerDate string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print the attendance recorded on a day",
	Args:  cobra.NoArgs,
	RunE:  runLedger,
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerDate, "date", "", "Day to show as YYYY-MM-DD (default today)")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	day := time.Now()
	if ledgerDate != "" {
		var err error
		day, err = time.ParseInLocation(attendance.DayLayout, ledgerDate, time.Local)
		if err != nil {
			return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", ledgerDate)
		}
	}

	ledger, err := attendance.Open(cmd.Context(), cfg.Attendance)
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.Entries(cmd.Context(), day)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Printf("No attendance recorded on %s.\n", attendance.DayKey(day))
		return nil
	}

	fmt.Printf("Attendance on %s (%d):\n\n", attendance.DayKey(day), len(entries))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tNAME\tID\tORGANIZATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(attendance.TimeLayout), e.OfficialName, e.UniqueID, e.Organization)
	}
	return w.Flush()
}
