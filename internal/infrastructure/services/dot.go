package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/awalterschulze/gographviz"

	"github.com/sophialabs/traceharness/internal/domain/descriptor"
	"github.com/sophialabs/traceharness/internal/domain/scope"
)

// DOTExporter writes request trees as Graphviz digraphs, one file per case.
type DOTExporter struct {
	dir string
}

// NewDOTExporter creates an exporter writing <dir>/<case-id>.dot.
func NewDOTExporter(dir string) *DOTExporter {
	return &DOTExporter{dir: dir}
}

// Export renders tree, rooted at the test exchange of token, to the case's file.
func (e *DOTExporter) Export(caseID string, token scope.Token, tree []descriptor.Descriptor) error {
	dot, err := RenderDOT(token, tree)
	if err != nil {
		return fmt.Errorf("failed to render tree of %s: %w", caseID, err)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dot directory: %w", err)
	}
	path := filepath.Join(e.dir, sanitizeFileName(caseID)+".dot")
	if err := os.WriteFile(path, []byte(dot), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// RenderDOT returns tree as a DOT digraph. Node ids are n0, n1, ... in
// depth-first order; the root n0 is the test exchange itself.
func RenderDOT(token scope.Token, tree []descriptor.Descriptor) (string, error) {
	const graphName = "requests"

	g := gographviz.NewGraph()
	if err := g.SetName(graphName); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}

	r := &dotRenderer{graph: g, name: graphName}
	root, err := r.node("test "+token.String(), map[string]string{"shape": "box"})
	if err != nil {
		return "", err
	}
	if err := r.children(root, tree); err != nil {
		return "", err
	}
	return g.String(), nil
}

type dotRenderer struct {
	graph *gographviz.Graph
	name  string
	next  int
}

func (r *dotRenderer) node(label string, attrs map[string]string) (string, error) {
	id := fmt.Sprintf("n%d", r.next)
	r.next++
	all := map[string]string{"label": quoteDOT(label)}
	for k, v := range attrs {
		all[k] = v
	}
	if err := r.graph.AddNode(r.name, id, all); err != nil {
		return "", err
	}
	return id, nil
}

func (r *dotRenderer) children(parent string, tree []descriptor.Descriptor) error {
	for _, d := range tree {
		label := fmt.Sprintf("%s\n%d headers", d.URL, len(d.Headers))
		id, err := r.node(label, nil)
		if err != nil {
			return err
		}
		if err := r.graph.AddEdge(parent, id, true, nil); err != nil {
			return err
		}
		if err := r.children(id, d.Arguments); err != nil {
			return err
		}
	}
	return nil
}

func quoteDOT(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return `"` + s + `"`
}

func sanitizeFileName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
