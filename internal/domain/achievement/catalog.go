package achievement

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadCatalogFile reads achievement definitions from a YAML file.
func LoadCatalogFile(path string) ([]*Achievement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog decodes and validates achievement definitions.
// Definitions default to active unless is_active is set to false.
func LoadCatalog(r io.Reader) ([]*Achievement, error) {
	var raw struct {
		Achievements []yaml.Node `yaml:"achievements"`
	}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	out := make([]*Achievement, 0, len(raw.Achievements))
	seen := make(map[string]struct{}, len(raw.Achievements))
	for i := range raw.Achievements {
		a := &Achievement{IsActive: true}
		if err := raw.Achievements[i].Decode(a); err != nil {
			return nil, fmt.Errorf("decode achievement #%d: %w", i+1, err)
		}
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("achievement %q: %w", a.ID, err)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("achievement %q: defined twice", a.ID)
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}
