package filesystem

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlCase is the YAML deserialization target for case files.
type yamlCase struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Requests    []yamlNode   `yaml:"requests"`
	Expect      []yamlExpect `yaml:"expect,omitempty"`
}

type yamlNode struct {
	Target   string       `yaml:"target,omitempty"`
	URL      string       `yaml:"url,omitempty"`
	Callback *string      `yaml:"callback,omitempty"`
	Headers  []yamlHeader `yaml:"headers,omitempty"`
	Calls    []yamlNode   `yaml:"calls,omitempty"`
}

// yamlHeader is a [name, value] pair.
type yamlHeader struct {
	Name  string
	Value string
}

func (h *yamlHeader) UnmarshalYAML(node *yaml.Node) error {
	var pair []string
	if err := node.Decode(&pair); err != nil {
		return fmt.Errorf("line %d: header must be a [name, value] list: %w", node.Line, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("line %d: header must have 2 elements, got %d", node.Line, len(pair))
	}
	h.Name, h.Value = pair[0], pair[1]
	return nil
}

// yamlExpect accepts either a bare expression or {that, message}.
type yamlExpect struct {
	That    string `yaml:"that"`
	Message string `yaml:"message,omitempty"`
}

func (e *yamlExpect) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.That = node.Value
		return nil
	}
	type plain yamlExpect
	return node.Decode((*plain)(e))
}
