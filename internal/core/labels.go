package core

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed labels.yaml
var defaultLabelsYAML []byte

type labelManifest struct {
	Classes []string `yaml:"classes"`
}

func parseLabels(data []byte) ([]string, error) {
	var manifest labelManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("error parsing label manifest: %w", err)
	}

	if len(manifest.Classes) == 0 {
		return nil, fmt.Errorf("label manifest contains no classes")
	}

	for i, label := range manifest.Classes {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("label manifest has an empty class name at index %d", i)
		}
		manifest.Classes[i] = label
	}

	return manifest.Classes, nil
}

// DefaultDetectorLabels returns the class names the bundled detector was
// trained with.
func DefaultDetectorLabels() []string {
	labels, err := parseLabels(defaultLabelsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded label manifest is invalid: %v", err))
	}
	return labels
}

// LoadDetectorLabels reads a label manifest from path, or returns the
// embedded defaults when path is empty.
func LoadDetectorLabels(path string) ([]string, error) {
	if path == "" {
		return DefaultDetectorLabels(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading label manifest %s: %w", path, err)
	}
	return parseLabels(data)
}
