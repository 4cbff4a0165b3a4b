package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/droverhq/drover/pkg/types"
)

const (
	// DefaultEventReplayMaxBytes bounds how much of the progress file
	// tail is scanned when replaying recent events
	DefaultEventReplayMaxBytes = 2 << 20

	defaultBridgeURL = "http://127.0.0.1:8893"
)

// Default returns a config with every defaulted field filled in;
// PermitURL is left empty
func Default() *types.Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".drover")

	cfg := &types.Config{
		LibraryRoot:         filepath.Join(base, "container-library"),
		BridgeURL:           defaultBridgeURL,
		ProgressFile:        filepath.Join(base, "progress.jsonl"),
		EventReplayMaxBytes: DefaultEventReplayMaxBytes,
		DataDir:             filepath.Join(base, "data"),
		DownloadDir:         filepath.Join(base, "download"),
	}
	cfg.Log.Level = "info"
	return cfg
}

// Load reads a YAML config file, layering it over Default. Environment
// variables DROVER_BRIDGE_URL and DROVER_PERMIT_URL override the file.
func Load(path string) (*types.Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if v := os.Getenv("DROVER_BRIDGE_URL"); v != "" {
		cfg.BridgeURL = v
	}
	if v := os.Getenv("DROVER_PERMIT_URL"); v != "" {
		cfg.PermitURL = v
	}
	if cfg.EventReplayMaxBytes <= 0 {
		cfg.EventReplayMaxBytes = DefaultEventReplayMaxBytes
	}

	return cfg, nil
}
