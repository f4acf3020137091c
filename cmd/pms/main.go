// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the pms CLI: a PubMed search and
// ingestion tool that keeps de-duplicated record sets per project.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/pms/internal/httputil"
	"github.com/pdiddy/pms/internal/logging"
	"github.com/pdiddy/pms/internal/metrics"
	"github.com/pdiddy/pms/internal/pubmed"
	"github.com/pdiddy/pms/internal/ratelimit"
	"github.com/pdiddy/pms/internal/search"
	"github.com/pdiddy/pms/internal/secrets"
	"github.com/pdiddy/pms/internal/store"
	"github.com/pdiddy/pms/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Resolved at startup by PersistentPreRunE.
var (
	cfg    types.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "pms",
	Short: "Search PubMed and keep de-duplicated record sets per project",
	Long: `pms runs PubMed searches through the NCBI E-utilities and stores the
resulting records in projects. Each project holds every PMID at most once,
so repeated or overlapping searches only download what is new.

Configuration is read from pms.yaml (current directory or ~/.config/pms/),
PMS_* environment variables, a .env file, and key files in .secrets/
(ncbi-api-key, ncbi-email, postgres-dsn, s3-access-key, s3-secret-key,
server-api-key).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := resolveConfig()
		if err != nil {
			return err
		}
		l, err := logging.New(c.Logging)
		if err != nil {
			return err
		}
		logger = l

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, logger)
		if err != nil {
			return err
		}
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		secrets.Apply(&c, s)
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./pms.yaml or ~/.config/pms/pms.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets", "directory of secret key files")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// setDefaults registers every configuration key so AutomaticEnv can resolve
// it and `config list` shows it.
func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "pms")

	v.SetDefault("api.base_url", pubmed.DefaultBaseURL)
	v.SetDefault("api.email", "")
	v.SetDefault("api.tool", "pms")
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.requests_per_second", 3.0)
	v.SetDefault("api.max_attempts", 3)
	v.SetDefault("api.retry_delay", httputil.RetryBaseDelay)
	v.SetDefault("api.timeout", 60*time.Second)
	v.SetDefault("api.user_agent", "pms/"+version)

	v.SetDefault("storage.driver", string(types.DriverSQLite))
	v.SetDefault("storage.database_path", filepath.Join(dataDir, "pms.db"))
	v.SetDefault("storage.dsn", "")

	v.SetDefault("search.batch_size", 100)
	v.SetDefault("search.max_results", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.refresh_schedule", "")

	for _, k := range []string{"bucket", "region", "endpoint", "access_key", "secret_key", "prefix"} {
		v.SetDefault("export.s3."+k, "")
	}
}

func initConfig() {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("pms")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "pms"))
		}
	}

	setDefaults(viper.GetViper())
	viper.SetEnvPrefix("PMS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// resolveConfig decodes the merged viper settings.
func resolveConfig() (types.Config, error) {
	var c types.Config
	if err := viper.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding configuration: %w", err)
	}
	return c, nil
}

// openRegistry opens the configured project store.
func openRegistry() (store.Registry, error) {
	reg, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return reg, nil
}

// newOrchestrator wires the limiter, E-utilities client, and metrics into a
// search orchestrator. The limiter is shared by every run of the process.
func newOrchestrator(reg store.Registry, promReg prometheus.Registerer) (*search.Orchestrator, error) {
	m, err := metrics.New(promReg)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(cfg.API.EffectiveRate())
	client := pubmed.New(cfg.API, limiter, logger)
	client.Metrics = m

	o := search.New(client, reg, logger)
	o.Metrics = m
	o.Retry = search.RetryPolicyFromConfig(cfg.API)
	logger.Debug("orchestrator ready",
		zap.Float64("requests_per_second", cfg.API.EffectiveRate()),
		zap.Int("max_attempts", o.Retry.MaxAttempts),
		zap.Duration("retry_delay", o.Retry.BaseDelay))
	return o, nil
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}
