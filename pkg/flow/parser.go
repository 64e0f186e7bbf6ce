package flow

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse parses a flow from YAML bytes. A missing id is generated.
func Parse(yamlBytes []byte) (*Flow, error) {
	if len(yamlBytes) == 0 {
		return nil, errors.New("empty YAML input")
	}

	var doc flowDocument
	if err := yaml.Unmarshal(yamlBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if doc.Name == "" {
		return nil, errors.New("missing required field: name")
	}
	if doc.ID == "" {
		doc.ID = NewFlowID()
	}
	if doc.Version == "" {
		doc.Version = "1"
	}

	f, err := doc.toFlow()
	if err != nil {
		return nil, fmt.Errorf("failed to parse flow %q: %w", doc.Name, err)
	}
	return f, nil
}

// ParseFile reads and parses a flow from a YAML file
func ParseFile(filePath string) (*Flow, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// ToYAML serializes a flow to YAML
func ToYAML(f *Flow) ([]byte, error) {
	if f == nil {
		return nil, errors.New("cannot serialize nil flow")
	}
	data, err := yaml.Marshal(f.document())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow to YAML: %w", err)
	}
	return data, nil
}
