package schedule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type definitionsFile struct {
	Checkins []Definition `yaml:"checkins"`
}

// LoadDefinitions reads and validates a check-in definitions file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading check-in definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates definitions from YAML. Unknown
// keys are rejected and IDs must be unique.
func ParseDefinitions(data []byte) ([]Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file definitionsFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing check-in definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Checkins))
	for _, def := range file.Checkins {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("invalid check-in definition: %w", err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate check-in id %q", def.ID)
		}
		seen[def.ID] = true
	}
	return file.Checkins, nil
}
