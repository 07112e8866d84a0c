package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Capability maps a product capability to the provider scopes that grant it.
type Capability struct {
	Description string   `yaml:"description"`
	Scopes      []string `yaml:"scopes"`
}

// Catalog is the set of capabilities the product can ask a user to grant.
type Catalog struct {
	Capabilities map[string]Capability `yaml:"capabilities"`
}

// LoadCatalog reads the catalog at path, or the embedded default when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return Catalog{}, fmt.Errorf("failed to read catalog %s: %w", path, err)
		}
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(catalog.Capabilities) == 0 {
		return Catalog{}, fmt.Errorf("catalog defines no capabilities")
	}
	for name, capability := range catalog.Capabilities {
		if len(capability.Scopes) == 0 {
			return Catalog{}, fmt.Errorf("capability %q has no scopes", name)
		}
	}
	return catalog, nil
}

// Scopes returns the provider scopes for capability.
func (c Catalog) Scopes(capability string) ([]string, bool) {
	entry, ok := c.Capabilities[capability]
	if !ok {
		return nil, false
	}
	scopes := make([]string, len(entry.Scopes))
	copy(scopes, entry.Scopes)
	return scopes, true
}

// Names lists the known capabilities in stable order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Capabilities))
	for name := range c.Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
