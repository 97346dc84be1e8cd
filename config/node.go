package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/timecontrol/controller"
	"github.com/liamcoop/timecontrol/rules"
)

// Node is the definition of one node: its settings and its rules in configuration
// form. The same document is accepted as YAML or JSON.
type Node struct {
	ID       string              `json:"id" yaml:"id"`
	Name     string              `json:"name,omitempty" yaml:"name,omitempty"`
	Settings controller.Settings `json:"settings" yaml:"settings"`
	Rules    []rules.RawRule     `json:"rules" yaml:"rules"`
}

// ParseNode decodes a node document. JSON is valid YAML, so both are accepted.
func ParseNode(data []byte) (Node, error) {
	var n Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return Node{}, fmt.Errorf("invalid node definition: %w", err)
	}
	return n, nil
}

// LoadNodeFile reads one node file. A missing id is taken from the file name.
func LoadNodeFile(path string) (Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Node{}, err
	}
	n, err := ParseNode(data)
	if err != nil {
		return Node{}, fmt.Errorf("%s: %w", path, err)
	}
	if n.ID == "" {
		n.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return n, nil
}

// LoadNodeDir reads every .yaml, .yml and .json file in dir, sorted by name.
func LoadNodeDir(dir string) ([]Node, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read node directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	nodes := make([]Node, 0, len(paths))
	for _, p := range paths {
		n, err := LoadNodeFile(p)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
