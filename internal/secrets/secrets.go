// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// Each file holds one secret: the filename is the key and the trimmed
// contents are the value.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/pms/pkg/types"
)

// Recognized key files.
const (
	NCBIAPIKey   = "ncbi-api-key"
	NCBIEmail    = "ncbi-email"
	PostgresDSN  = "postgres-dsn"
	S3AccessKey  = "s3-access-key"
	S3SecretKey  = "s3-secret-key"
	ServerAPIKey = "server-api-key"
)

// Load reads every regular, non-hidden file in dir. A missing directory
// yields an empty map. Unreadable files are logged and skipped.
func Load(dir string, logger *zap.Logger) (map[string]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	out := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("skipping unreadable secret", zap.String("name", name), zap.Error(err))
			continue
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			out[name] = value
		}
	}
	return out, nil
}

// Apply copies recognized secrets into cfg, filling only fields that are
// still empty so explicit configuration wins.
func Apply(cfg *types.Config, s map[string]string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = s[key]
		}
	}
	fill(&cfg.API.APIKey, NCBIAPIKey)
	fill(&cfg.API.Email, NCBIEmail)
	fill(&cfg.Storage.DSN, PostgresDSN)
	fill(&cfg.Export.S3.AccessKey, S3AccessKey)
	fill(&cfg.Export.S3.SecretKey, S3SecretKey)
	fill(&cfg.Server.APIKey, ServerAPIKey)
}
