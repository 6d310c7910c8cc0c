package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const includeTag = "!include"

const maxIncludeDepth = 10

// IncludeResolver replaces !include tagged nodes with the referenced file:
// YAML fragments are spliced in as nodes, anything else becomes a string.
// References are relative to the including file, or "@root/..." relative to
// the cases directory, and may not leave it.
type IncludeResolver struct {
	rootDir string
}

// NewIncludeResolver creates a resolver confined to rootDir.
func NewIncludeResolver(rootDir string) *IncludeResolver {
	return &IncludeResolver{rootDir: rootDir}
}

// ResolveIncludes rewrites node in place.
func (r *IncludeResolver) ResolveIncludes(node *yaml.Node, currentDir string) error {
	return r.walk(node, currentDir, 0)
}

func (r *IncludeResolver) walk(node *yaml.Node, dir string, depth int) error {
	if node == nil {
		return nil
	}
	if depth > maxIncludeDepth {
		return fmt.Errorf("%s nested deeper than %d", includeTag, maxIncludeDepth)
	}
	if node.Tag == includeTag {
		return r.splice(node, dir, depth)
	}
	for _, child := range node.Content {
		if err := r.walk(child, dir, depth); err != nil {
			return err
		}
	}
	return nil
}

func (r *IncludeResolver) splice(node *yaml.Node, dir string, depth int) error {
	ref := node.Value
	if ref == "" {
		return fmt.Errorf("line %d: %s needs a file", node.Line, includeTag)
	}

	target, err := r.locate(ref, dir)
	if err != nil {
		return fmt.Errorf("line %d: %s %q: %w", node.Line, includeTag, ref, err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	if !isYAMLFile(target) {
		*node = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: strings.TrimRight(string(data), "\n")}
		return nil
	}

	var fragment yaml.Node
	if err := yaml.Unmarshal(data, &fragment); err != nil {
		return fmt.Errorf("failed to parse fragment %s: %w", target, err)
	}
	if err := r.walk(&fragment, filepath.Dir(target), depth+1); err != nil {
		return err
	}
	if fragment.Kind != yaml.DocumentNode || len(fragment.Content) == 0 {
		return fmt.Errorf("fragment %s is empty", target)
	}
	*node = *fragment.Content[0]
	return nil
}

func (r *IncludeResolver) locate(ref, dir string) (string, error) {
	var target string
	switch {
	case strings.HasPrefix(ref, "@root/"):
		target = filepath.Join(r.rootDir, strings.TrimPrefix(ref, "@root/"))
	case filepath.IsAbs(ref):
		return "", fmt.Errorf("absolute paths are not allowed")
	default:
		target = filepath.Join(dir, ref)
	}

	root := r.rootDir
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	resolved := target
	if real, err := filepath.EvalSymlinks(target); err == nil {
		resolved = real
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the cases directory")
	}
	return target, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
