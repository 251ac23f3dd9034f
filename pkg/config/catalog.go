package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

// Catalog is the on-disk tool declaration file
type Catalog struct {
	Tools []protocol.ToolDescriptor `yaml:"tools"`
}

// LoadCatalog reads a YAML (or JSON) tool catalog from path
func LoadCatalog(path string) ([]protocol.ToolDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	tools, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return tools, nil
}

// ParseCatalog decodes a tool catalog. Unknown fields are rejected so typos
// in schema declarations fail at startup.
func ParseCatalog(data []byte) ([]protocol.ToolDescriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	for i, t := range c.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tools[%d]: name is required", i)
		}
		if t.ServerID == "" {
			return nil, fmt.Errorf("tool %q: server is required", t.Name)
		}
		if err := t.Parameters.Check(); err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
	}
	return c.Tools, nil
}
