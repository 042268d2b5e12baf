package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var envFile string
	var configFile string

	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "bekola",
		Short:         "Bekola learning platform backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(envFile, configFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading configuration")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (overrides CONFIG_FILE)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWorkerCommand(ctx))
	rootCmd.AddCommand(newSweepCertificatesCommand(ctx))
	rootCmd.AddCommand(newPendingCertificatesCommand(ctx))
	rootCmd.AddCommand(newTranscodeCommand(ctx))

	return rootCmd
}

// loadEnv reads the dotenv file without overriding variables already set.
// A missing file is fine.
func loadEnv(envFile, configFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if configFile != "" {
		return os.Setenv("CONFIG_FILE", configFile)
	}
	return nil
}
