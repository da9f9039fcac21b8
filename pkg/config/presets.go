package config

import (
	"fmt"
	"sort"
	"strings"
)

// presets adjust the defaults for common operating modes
var presets = map[string]func(*Config){
	"development": func(c *Config) {
		c.Pipeline.MinConfidence = 0.7
		c.Pipeline.MaxRetries = 2
	},
	"production": func(c *Config) {
		c.Pipeline.MinConfidence = 0.8
		c.Pipeline.MaxRetries = 1
		c.Artifacts.Enabled = true
	},
	"conservative": func(c *Config) {
		c.Pipeline.MinConfidence = 0.9
		c.Pipeline.MaxRetries = 0
		c.Pipeline.AutoFormat = false
		c.Pipeline.GitCommit = false
		c.Diff.MaxFiles = 5
	},
	"experimental": func(c *Config) {
		c.Pipeline.MinConfidence = 0.6
		c.Pipeline.MaxRetries = 3
	},
}

// Preset returns the defaults adjusted by the named preset
func Preset(name string) (*Config, error) {
	apply, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown preset: %s (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	c := Default()
	apply(c)
	return c, nil
}

// PresetNames lists the known presets in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
