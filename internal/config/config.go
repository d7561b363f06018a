// Package config loads the runtime configuration from JSONC files and
// environment overrides, layered over the built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/tidwall/jsonc"

	"github.com/strand-ai/strand/pkg/types"
)

// envPattern matches {env:VAR_NAME} placeholders inside config files.
var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// Load builds the configuration in priority order:
//  1. built-in defaults
//  2. global config (~/.config/strand/strand.json[c])
//  3. project config (<directory>/strand.json[c])
//  4. STRAND_CONFIG file override
//  5. environment variables
func Load(directory string) (*types.Config, error) {
	cfg := types.DefaultConfig()

	if home, err := os.UserHomeDir(); err == nil {
		globalDir := filepath.Join(home, ".config", "strand")
		loadFile(filepath.Join(globalDir, "strand.json"), cfg)
		loadFile(filepath.Join(globalDir, "strand.jsonc"), cfg)
	}

	if directory != "" {
		loadFile(filepath.Join(directory, "strand.json"), cfg)
		loadFile(filepath.Join(directory, "strand.jsonc"), cfg)
	}

	if path := os.Getenv("STRAND_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadFile merges one JSONC config file into cfg. A missing file is not
// an error; a malformed one is.
func loadFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data)

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// interpolate expands {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// applyEnvOverrides maps STRAND_* environment variables onto the config.
func applyEnvOverrides(cfg *types.Config) {
	if v := os.Getenv("STRAND_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STRAND_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("STRAND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STRAND_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Session.MaxSteps = n
		}
	}
	if v := os.Getenv("STRAND_MISTAKE_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Session.MistakeCeiling = n
		}
	}
	if v := os.Getenv("STRAND_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Session.TokenBudget = n
		}
	}
}
