// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openchami/authcore/pkg/config"
	"github.com/openchami/authcore/pkg/jwks"
	"github.com/openchami/authcore/pkg/keys"
)

var force bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the signing key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := settings.GetString(config.KeyDir)
		privateKeyPath := filepath.Join(dir, keys.PrivateKeyFile)
		if _, err := os.Stat(privateKeyPath); err == nil && !force {
			return fmt.Errorf("%s already exists, use --force to replace it", privateKeyPath)
		}

		km, err := keys.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate key pair: %w", err)
		}
		if err := keys.SaveKeyPair(km, dir); err != nil {
			return fmt.Errorf("failed to save key pair: %w", err)
		}

		fmt.Printf("Generated new key pair:\n")
		fmt.Printf("  Private key: %s\n", privateKeyPath)
		fmt.Printf("  Public key:  %s\n", filepath.Join(dir, keys.PublicKeyFile))
		fmt.Printf("  Key ID:      %s\n", km.KID)
		return nil
	},
}

var jwksCmd = &cobra.Command{
	Use:   "jwks",
	Short: "Print the JWKS document for the signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		km, err := keys.NewStore(settings.GetString(config.KeyDir)).GetKeys()
		if err != nil {
			return err
		}
		set, err := jwks.FromKeyMaterial(km)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(set)
	},
}

func init() {
	keygenCmd.Flags().String("key-dir", "", "Directory to write private.pem and public.pem (env KEY_DIR)")
	keygenCmd.Flags().BoolVar(&force, "force", false, "Replace an existing key pair")
	jwksCmd.Flags().String("key-dir", "", "Directory holding public.pem and private.pem (env KEY_DIR)")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(jwksCmd)
}
