// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openchami/authcore/pkg/config"
	"github.com/openchami/authcore/pkg/logging"
)

var (
	configPath string
	envFile    string
	settings   *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "authcore",
	Short: "authcore - token issuing and identity federation",
	Long:  `authcore issues RS256 session tokens, publishes their JWKS and federates logins with Google and GitHub.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		logging.ConfigureFromEnv()

		settings = config.New()
		if err := config.ReadFile(settings, configPath); err != nil {
			return err
		}
		return bindFlags(cmd)
	},
	SilenceUsage: true,
}

// flagKeys maps command flags onto setting keys so flags override the
// environment.
var flagKeys = map[string]string{
	"key-dir":    config.KeyDir,
	"listen":     config.ListenAddr,
	"redis-addr": config.RedisAddr,
	"token-ttl":  config.TokenTTL,
}

func bindFlags(cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := settings.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to .env file (default ./.env when present)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
