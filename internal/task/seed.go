package task

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedTask is one entry of a tasks file.
type SeedTask struct {
	Owner         string   `yaml:"owner"`
	Label         string   `yaml:"label"`
	Conversations []string `yaml:"conversations"`
	WindowHours   int      `yaml:"window_hours"`
	Method        string   `yaml:"method"`
}

type seedFile struct {
	Tasks []SeedTask `yaml:"tasks"`
}

// LoadSeedFile reads a YAML tasks file of the form:
//
//	tasks:
//	  - owner: ou_123
//	    label: support
//	    conversations: [oc_a, oc_b]
//	    window_hours: 1
//	    method: content-hash
func LoadSeedFile(path string) ([]SeedTask, error) {
	b, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	return ParseSeed(b)
}

// ParseSeed decodes a YAML tasks document. Unknown keys are rejected.
func ParseSeed(b []byte) ([]SeedTask, error) {
	var f seedFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode tasks file: %w", err)
	}
	for i, t := range f.Tasks {
		if t.Owner == "" || t.Label == "" {
			return nil, fmt.Errorf("tasks[%d]: owner and label are required", i)
		}
	}
	return f.Tasks, nil
}
