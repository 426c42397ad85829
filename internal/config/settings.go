// Package config loads agent settings files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds merged configuration from multiple sources.
// Later sources override earlier ones (user < project).
// Files may be YAML or JSON; unknown keys are rejected.
type Settings struct {
	Model                  string   `yaml:"model,omitempty"`
	MaxSteps               int      `yaml:"maxSteps,omitempty"`
	MaxBudgetUSD           float64  `yaml:"maxBudgetUSD,omitempty"`
	SystemPrompt           string   `yaml:"systemPrompt,omitempty"`
	AdditionalInstructions string   `yaml:"additionalInstructions,omitempty"`
	AllowedTools           []string `yaml:"allowedTools,omitempty"`
	DisallowedTools        []string `yaml:"disallowedTools,omitempty"`
	Memory                 *bool    `yaml:"memory,omitempty"`
	UseServerManager       *bool    `yaml:"useServerManager,omitempty"`
}

// LoadSettings merges settings from the given paths in order.
// Missing files are skipped; malformed files are an error.
func LoadSettings(paths ...string) (*Settings, error) {
	merged := &Settings{}
	for _, path := range paths {
		s, err := loadSettingsFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mergeSettings(merged, s)
	}
	return merged, nil
}

// DefaultSettingsPaths returns the standard settings file search paths.
func DefaultSettingsPaths(projectDir string) []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".mcp-agent", "settings.yaml"))
	}
	if projectDir != "" {
		paths = append(paths,
			filepath.Join(projectDir, ".mcp-agent", "settings.yaml"),
			filepath.Join(projectDir, ".mcp-agent", "settings.json"),
		)
	}
	return paths
}

func loadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Settings
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &s, nil
}

func mergeSettings(dst, src *Settings) {
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.MaxSteps > 0 {
		dst.MaxSteps = src.MaxSteps
	}
	if src.MaxBudgetUSD > 0 {
		dst.MaxBudgetUSD = src.MaxBudgetUSD
	}
	if src.SystemPrompt != "" {
		dst.SystemPrompt = src.SystemPrompt
	}
	if src.AdditionalInstructions != "" {
		dst.AdditionalInstructions = src.AdditionalInstructions
	}
	if len(src.AllowedTools) > 0 {
		dst.AllowedTools = src.AllowedTools
	}
	if len(src.DisallowedTools) > 0 {
		dst.DisallowedTools = src.DisallowedTools
	}
	if src.Memory != nil {
		dst.Memory = src.Memory
	}
	if src.UseServerManager != nil {
		dst.UseServerManager = src.UseServerManager
	}
}
