package filesystem_test

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/sophialabs/traceharness/internal/infrastructure/outbound/filesystem"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func resolve(t *testing.T, root, dir, content string) (*yaml.Node, error) {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(content), &node); err != nil {
		t.Fatal(err)
	}
	err := filesystem.NewIncludeResolver(root).ResolveIncludes(&node, dir)
	return &node, err
}

func TestIncludeResolver_YAMLFragment(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "_fragments", "valid.yaml"), "- [traceparent, 00-abc]\n")

	node, err := resolve(t, root, root, "headers: !include _fragments/valid.yaml\n")
	if err != nil {
		t.Fatalf("ResolveIncludes failed: %v", err)
	}
	var out struct {
		Headers [][]string `yaml:"headers"`
	}
	if err := node.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Headers) != 1 || out.Headers[0][0] != "traceparent" {
		t.Errorf("unexpected headers %v", out.Headers)
	}
}

func TestIncludeResolver_AtRootFromNestedDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "_fragments", "expr.txt"), "present(\"1\")\n")
	nested := filepath.Join(root, "suite", "deep")

	node, err := resolve(t, root, nested, "that: !include '@root/_fragments/expr.txt'\n")
	if err != nil {
		t.Fatalf("ResolveIncludes failed: %v", err)
	}
	var out struct {
		That string `yaml:"that"`
	}
	if err := node.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.That != `present("1")` {
		t.Errorf("raw include = %q", out.That)
	}
}

func TestIncludeResolver_Rejects(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "self.yaml"), "x: !include self.yaml\n")
	writeFile(t, filepath.Join(root, "broken.yaml"), "x: [unclosed\n")

	tests := map[string]string{
		"empty":     "x: !include \"\"\n",
		"absolute":  "x: !include /etc/passwd\n",
		"traversal": "x: !include ../outside.yaml\n",
		"missing":   "x: !include nope.yaml\n",
		"depth":     "x: !include self.yaml\n",
		"broken":    "x: !include broken.yaml\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := resolve(t, root, root, content); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
