package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sophialabs/traceharness/internal/domain/conformance"
	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

var _ ports.CaseRepository = (*YAMLRepository)(nil)

// YAMLRepository loads case definitions from YAML files in a directory tree.
// Directories whose name starts with '_' hold include fragments and are not
// read as cases.
type YAMLRepository struct {
	rootDir  string
	resolver *IncludeResolver
}

// NewYAMLRepository creates a repository rooted at rootDir.
func NewYAMLRepository(rootDir string) (*YAMLRepository, error) {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cases directory: %w", err)
	}
	return &YAMLRepository{
		rootDir:  absRoot,
		resolver: NewIncludeResolver(absRoot),
	}, nil
}

// RootDir returns the absolute directory cases are read from.
func (r *YAMLRepository) RootDir() string { return r.rootDir }

// LoadAll walks the root directory in lexical order and returns every case
// found. A file holds either one case or a list of cases.
func (r *YAMLRepository) LoadAll(ctx context.Context) ([]*conformance.Definition, error) {
	var defs []*conformance.Definition

	err := filepath.WalkDir(r.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != r.rootDir && strings.HasPrefix(d.Name(), "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isYAMLFile(path) {
			return nil
		}

		loaded, err := r.loadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		defs = append(defs, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk cases directory: %w", err)
	}

	return defs, nil
}

func (r *YAMLRepository) loadFile(path string) ([]*conformance.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rootNode yaml.Node
	if err := yaml.Unmarshal(data, &rootNode); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if rootNode.Kind != yaml.DocumentNode || len(rootNode.Content) == 0 {
		// Empty file.
		return nil, nil
	}

	if err := r.resolver.ResolveIncludes(&rootNode, filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to resolve includes: %w", err)
	}

	content := rootNode.Content[0]
	items := []*yaml.Node{content}
	if content.Kind == yaml.SequenceNode {
		items = content.Content
	}

	defs := make([]*conformance.Definition, 0, len(items))
	for _, item := range items {
		def, err := decodeCaseNode(item)
		if err != nil {
			return nil, err
		}
		def.SourceFile = path
		defs = append(defs, def)
	}
	return defs, nil
}

func decodeCaseNode(node *yaml.Node) (*conformance.Definition, error) {
	var yc yamlCase
	if err := node.Decode(&yc); err != nil {
		return nil, fmt.Errorf("failed to decode case at line %d: %w", node.Line, err)
	}
	return toDefinition(&yc), nil
}

func toDefinition(yc *yamlCase) *conformance.Definition {
	def := &conformance.Definition{
		ID:          yc.ID,
		Name:        yc.Name,
		Description: strings.TrimSpace(yc.Description),
		Requests:    toNodes(yc.Requests),
	}
	for _, e := range yc.Expect {
		def.Expect = append(def.Expect, conformance.ExpectDef{That: e.That, Message: e.Message})
	}
	return def
}

func toNodes(ys []yamlNode) []conformance.NodeDef {
	if len(ys) == 0 {
		return nil
	}
	nodes := make([]conformance.NodeDef, 0, len(ys))
	for _, y := range ys {
		nodes = append(nodes, toNode(y))
	}
	return nodes
}

// toNode picks the target from whichever of target, url and callback is set.
// Zero or several leave Target empty for the compiler to reject.
func toNode(y yamlNode) conformance.NodeDef {
	n := conformance.NodeDef{URL: y.URL, Calls: toNodes(y.Calls)}

	set := 0
	if y.Target != "" {
		set++
		n.Target = conformance.Target(y.Target)
	}
	if y.URL != "" {
		set++
		n.Target = conformance.TargetURL
	}
	if y.Callback != nil {
		set++
		n.Target = conformance.TargetCallback
		n.Callback = *y.Callback
	}
	if set != 1 {
		n.Target = ""
	}

	for _, h := range y.Headers {
		n.Headers = append(n.Headers, descriptor.H(h.Name, h.Value))
	}
	return n
}
