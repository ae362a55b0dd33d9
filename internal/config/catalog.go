package config

import (
	"fmt"
	"os"

	"github.com/irfndi/tradepilot/internal/models"
	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk set of AI profiles and strategy configurations
// seeded into storage at startup.
type Catalog struct {
	Profiles   []models.AIProfile             `yaml:"profiles"`
	Strategies []models.TradingStrategyConfig `yaml:"strategies"`
}

// LoadCatalog reads a YAML catalog. An empty path yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	for i, p := range catalog.Profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("profile #%d has no id", i)
		}
		if p.Mode == "" {
			catalog.Profiles[i].Mode = models.AnalysisModeDirect
		}
	}
	for i, s := range catalog.Strategies {
		if s.ID == "" {
			return nil, fmt.Errorf("strategy #%d has no id", i)
		}
		if !s.Kind.Valid() {
			return nil, fmt.Errorf("strategy %s has unsupported kind %q", s.ID, s.Kind)
		}
	}
	return &catalog, nil
}
