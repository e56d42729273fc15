package main

import (
	"github.com/spf13/cobra"

	"github.com/lipcheck/lipcheck/internal/config"
)

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "lipcheck",
		Short:         "Detect lip-sync deepfakes by comparing lip reading with speech",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cc)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cc.logLevel, "log-level", "", "Override LIPCHECK_LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&cc.configPath, "config", "c", "", "Tunables file path (overrides LIPCHECK_CONFIG)")

	rootCmd.AddCommand(newServeCommand(cc))
	rootCmd.AddCommand(newVerifyCommand(cc))
	rootCmd.AddCommand(newImageCommand(cc))
	rootCmd.AddCommand(newCompareCommand())
	rootCmd.AddCommand(newDoctorCommand(cc))
	rootCmd.AddCommand(newRunsCommand(cc))

	return rootCmd
}
