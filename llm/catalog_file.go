package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of a catalog override file:
//
//	models:
//	  - friendly_name: Claude 3 Haiku
//	    model_id: us.anthropic.claude-3-haiku-20240307-v1:0
//	    provider: claude
//	    requires_inference_profile: true
type catalogFile struct {
	Models []ModelCatalogEntry `yaml:"models"`
}

// ParseCatalogEntries decodes catalog entries from YAML.
func ParseCatalogEntries(data []byte) ([]ModelCatalogEntry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for i, e := range f.Models {
		if e.Provider == 0 {
			return nil, fmt.Errorf("catalog entry %d (%q): provider is required", i, e.FriendlyName)
		}
	}
	return f.Models, nil
}

// LoadCatalogFile reads a YAML catalog override file and merges it over the
// default catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	entries, err := ParseCatalogEntries(data)
	if err != nil {
		return nil, err
	}
	return DefaultCatalog().Merge(entries...)
}
