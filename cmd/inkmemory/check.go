package main

import (
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		printStartupSummary(cfg)
		cmd.Printf("%s is valid\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
