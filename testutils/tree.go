package testutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteTree creates files and directories under root.
// Keys are slash-separated relative paths; a key ending in "/" creates an empty directory.
func WriteTree(t testing.TB, root string, entries map[string]string) {
	t.Helper()

	for rel, content := range entries {
		p := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(rel, "/")))
		if strings.HasSuffix(rel, "/") {
			if err := os.MkdirAll(p, 0755); err != nil {
				t.Fatalf("mkdir %s: %v", rel, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir parent of %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

// ProjectTree builds the canonical fixture: Project/a.txt (10 bytes), Project/sub/b.txt (20 bytes)
// and the empty folder Project/sub/empty. It returns the path of Project.
func ProjectTree(t testing.TB) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "Project")
	WriteTree(t, root, map[string]string{
		"a.txt":      strings.Repeat("a", 10),
		"sub/b.txt":  strings.Repeat("b", 20),
		"sub/empty/": "",
	})
	return root
}

// DeepTree builds a chain of depth nested folders, each holding one file, under a fresh root
func DeepTree(t testing.TB, name string, depth int) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), name)
	entries := map[string]string{"root.txt": "root"}
	rel := ""
	for i := 1; i <= depth; i++ {
		if rel != "" {
			rel += "/"
		}
		rel += "level" + string(rune('0'+i%10))
		entries[rel+"/file.txt"] = rel
	}
	WriteTree(t, root, entries)
	return root
}
