package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"repairsync/internal/domain"
)

// StatusCatalog models statuses.yml, the localized RemOnline status list.
type StatusCatalog struct {
	Statuses []domain.StatusDefinition `yaml:"statuses"`
}

// Validate ensures every entry is addressable and named.
func (c *StatusCatalog) Validate() error {
	seen := map[string]bool{}
	for i, s := range c.Statuses {
		if s.StatusID <= 0 {
			return fmt.Errorf("statuses[%d].id must be positive", i)
		}
		if strings.TrimSpace(s.Locale) == "" {
			return fmt.Errorf("statuses[%d].locale is required", i)
		}
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("statuses[%d].name is required", i)
		}
		key := fmt.Sprintf("%d/%s", s.StatusID, s.Locale)
		if seen[key] {
			return fmt.Errorf("status %s defined twice", key)
		}
		seen[key] = true
	}
	return nil
}

// StatusCatalogFromYAML parses and validates a catalog from raw YAML bytes.
func StatusCatalogFromYAML(data []byte) (*StatusCatalog, error) {
	var c StatusCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid statuses yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// StatusCatalogFromFile reads a YAML catalog from the given path.
func StatusCatalogFromFile(path string) (*StatusCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return StatusCatalogFromYAML(data)
}

// ToYAML renders the catalog, as used by `statuses export`.
func (c *StatusCatalog) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
