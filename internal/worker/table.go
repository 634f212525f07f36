package worker

import (
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Def is one row of the category table.
//
// Count > 1 expands into Count workers named "<name>-1".."<name>-N".
type Def struct {
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`
	Count    int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// Expand flattens Count into individual rows.
func Expand(defs []Def) []Def {
	out := make([]Def, 0, len(defs))
	for _, d := range defs {
		if d.Count <= 1 {
			d.Count = 0
			out = append(out, d)
			continue
		}
		for i := 1; i <= d.Count; i++ {
			out = append(out, Def{Name: fmt.Sprintf("%s-%d", strings.TrimSpace(d.Name), i), Category: d.Category})
		}
	}
	return out
}

// LoadTable reads a category table from a YAML or JSON file.
//
// The file is either a bare list of rows or a mapping with a "workers" key.
func LoadTable(path string) ([]Def, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTable(b)
}

// ParseTable decodes table bytes. YAML is a superset of JSON, so one decoder
// serves both formats.
func ParseTable(b []byte) ([]Def, error) {
	var list []Def
	if err := yaml.Unmarshal(b, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Workers []Def `yaml:"workers"`
	}
	if err := yaml.Unmarshal(b, &wrapped); err != nil {
		return nil, fmt.Errorf("worker table: %w", err)
	}
	return wrapped.Workers, nil
}
