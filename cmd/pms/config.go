// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write configuration values",
	Long: `Config reads and writes keys in the pms configuration file. Keys use
dotted names such as api.email or search.batch_size. Environment variables
(PMS_API_EMAIL, ...) and secret files override the file at runtime.`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(args[0])
		if !knownKey(key) {
			return fmt.Errorf("unknown config key %q", args[0])
		}
		fmt.Println(maskSecret(key, viper.GetString(key)))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a key to the configuration file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(args[0])
		if !knownKey(key) {
			return fmt.Errorf("unknown config key %q", args[0])
		}
		viper.Set(key, args[1])
		if _, err := resolveConfig(); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}

		path := configWritePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("Set %s in %s\n", key, path)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every key with its effective value",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		keys := viper.AllKeys()
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s = %s\n", k, maskSecret(k, viper.GetString(k)))
		}
	},
}

// configWritePath is the file in use, or ~/.config/pms/pms.yaml.
func configWritePath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "pms.yaml"
	}
	return filepath.Join(home, ".config", "pms", "pms.yaml")
}

func knownKey(key string) bool {
	for _, k := range viper.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// maskSecret hides credential values.
func maskSecret(key, value string) string {
	if value == "" {
		return value
	}
	switch {
	case strings.HasSuffix(key, "api_key"), strings.HasSuffix(key, "secret_key"),
		strings.HasSuffix(key, "access_key"), key == "storage.dsn":
		return "********"
	}
	return value
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
