package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// atlasYAML is the structure of atlas.yaml.
type atlasYAML struct {
	Memory    *MemoryConfig    `yaml:"memory"`
	Context   *ContextConfig   `yaml:"context"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
}

// Initialize loads, merges, and validates configuration from configDir.
// Missing files are not errors: built-in defaults apply. This is the primary
// entry point, called once from main.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	flags, err := LoadFlags()
	if err != nil {
		return nil, fmt.Errorf("failed to load admin flags: %w", err)
	}

	memory := DefaultMemoryConfig()
	contextCfg := DefaultContextConfig()
	scheduler := DefaultSchedulerConfig()

	if raw, err := readConfigFile(configDir, "atlas.yaml"); err != nil {
		return nil, err
	} else if raw != nil {
		var user atlasYAML
		if err := yaml.Unmarshal(ExpandEnv(raw), &user); err != nil {
			return nil, fmt.Errorf("failed to parse atlas.yaml: %w", err)
		}
		// Non-zero user values override defaults.
		if user.Memory != nil {
			if err := mergo.Merge(memory, user.Memory, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge memory config: %w", err)
			}
		}
		if user.Context != nil {
			if err := mergo.Merge(contextCfg, user.Context, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge context config: %w", err)
			}
		}
		if user.Scheduler != nil {
			if err := mergo.Merge(scheduler, user.Scheduler, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
			}
		}
	}

	registry := DefaultModelRegistry()
	if raw, err := readConfigFile(configDir, "models.yaml"); err != nil {
		return nil, err
	} else if raw != nil {
		var user ModelRegistry
		if err := yaml.Unmarshal(ExpandEnv(raw), &user); err != nil {
			return nil, fmt.Errorf("failed to parse models.yaml: %w", err)
		}
		if len(user.Providers) > 0 {
			registry.Providers = user.Providers
		}
		for role, refs := range user.Roles {
			registry.Roles[role] = refs
		}
	}
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("model registry validation failed: %w", err)
	}

	catalogPath := filepath.Join(configDir, "predicates.yaml")
	if _, err := os.Stat(catalogPath); err != nil {
		catalogPath = "" // embedded default
	}

	cfg := &Config{
		configDir:   configDir,
		Memory:      memory,
		Context:     contextCfg,
		Scheduler:   scheduler,
		Models:      registry,
		Flags:       flags,
		CatalogPath: catalogPath,
	}

	log.Info("Configuration initialized",
		"roles", len(registry.Roles),
		"providers", len(registry.Providers),
		"internal_only", flags.InternalOnly,
		"default_memory_mode", flags.DefaultMemoryMode)
	return cfg, nil
}

// readConfigFile returns the file contents, nil when absent.
func readConfigFile(dir, name string) ([]byte, error) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
