package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.Events.MQTTPassword != "" {
			shown.Events.MQTTPassword = redacted
		}
		if shown.Attendance.DatabaseURL != "" {
			shown.Attendance.DatabaseURL = redacted
		}

		out, err := yaml.Marshal(&shown)
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}

		fmt.Println("# Current configuration")
		if configFile != "" {
			fmt.Printf("# loaded from %s\n", configFile)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
