package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/seeder/horosafe"
	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fileSource(path string) catalog.Source {
	return catalog.Source{Namespace: "local", Name: "f", URL: path, Type: catalog.TypeFile}
}

func TestFileCodeIsFenced(t *testing.T) {
	// WHAT: Source code is wrapped in a fence tagged with its language.
	// WHY: Chunkers keep fenced code intact.
	path := writeTemp(t, "main.go", []byte("package main\n\nfunc main() {}\n"))
	res, err := NewFile(Config{}).Extract(context.Background(), fileSource(path))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Content != "```go\npackage main\n\nfunc main() {}\n```" {
		t.Errorf("content: %q", res.Content)
	}
	if res.Metadata["is_code"] != "true" || res.Metadata["category"] != "code" {
		t.Errorf("metadata: %v", res.Metadata)
	}
	if res.Metadata["filename"] != "main.go" || res.Metadata["extension"] != ".go" {
		t.Errorf("metadata: %v", res.Metadata)
	}
}

func TestFileMarkdownTitle(t *testing.T) {
	// WHAT: The first level-one heading names a markdown document.
	// WHY: File names are poor titles.
	path := writeTemp(t, "notes.md", []byte("\xEF\xBB\xBF# Field Notes\n\nSome text."))
	res, err := NewFile(Config{}).Extract(context.Background(), fileSource(path))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Title != "Field Notes" {
		t.Errorf("title: %q", res.Title)
	}
	if !strings.HasPrefix(res.Content, "# Field Notes") {
		t.Errorf("BOM not stripped: %q", res.Content)
	}
	if res.Metadata["encoding"] != "utf-8-sig" {
		t.Errorf("encoding: %q", res.Metadata["encoding"])
	}
}

func TestFileLatin1Fallback(t *testing.T) {
	// WHAT: Invalid UTF-8 is decoded as Latin-1.
	// WHY: Legacy text files must still be ingested readably.
	path := writeTemp(t, "legacy.txt", []byte("caf\xe9 cr\xe8me br\xfbl\xe9e"))
	res, err := NewFile(Config{}).Extract(context.Background(), fileSource(path))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Content != "café crème brûlée" {
		t.Errorf("content: %q", res.Content)
	}
	if res.Metadata["encoding"] != "latin-1" {
		t.Errorf("encoding: %q", res.Metadata["encoding"])
	}
}

func TestFileUTF16(t *testing.T) {
	// WHAT: UTF-16 files with a BOM are decoded.
	// WHY: Windows editors still produce them.
	data := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}
	path := writeTemp(t, "win.txt", data)
	res, err := NewFile(Config{}).Extract(context.Background(), fileSource(path))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Content != "hi" {
		t.Errorf("content: %q", res.Content)
	}
}

func TestFileDataIsFenced(t *testing.T) {
	// WHAT: Structured data files are fenced with their format.
	path := writeTemp(t, "config.yaml", []byte("key: value\n"))
	res, err := NewFile(Config{}).Extract(context.Background(), fileSource(path))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Content != "```yaml\nkey: value\n```" || res.Metadata["category"] != "data" {
		t.Errorf("got %q %v", res.Content, res.Metadata)
	}
}

func TestFileMissingIsPermanent(t *testing.T) {
	// WHAT: A missing path is a permanent not-found.
	// WHY: Retrying cannot create the file.
	_, err := NewFile(Config{}).Extract(context.Background(), fileSource(filepath.Join(t.TempDir(), "gone.txt")))
	if !IsPermanent(err) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want permanent not found", err)
	}
}

func TestFileBinaryRejected(t *testing.T) {
	// WHAT: Unknown extensions holding NUL bytes are refused.
	path := writeTemp(t, "blob.bin", []byte{0x7f, 'E', 'L', 'F', 0, 0, 1})
	_, err := NewFile(Config{}).Extract(context.Background(), fileSource(path))
	if !IsPermanent(err) {
		t.Fatalf("got %v, want permanent", err)
	}
}

func TestFileConfinedToRoot(t *testing.T) {
	// WHAT: FileRoot rejects paths outside it.
	// WHY: A catalog entry must not read arbitrary files.
	path := writeTemp(t, "secret.txt", []byte("secret"))
	_, err := NewFile(Config{FileRoot: t.TempDir()}).Extract(context.Background(), fileSource(path))
	if !IsPermanent(err) || !errors.Is(err, horosafe.ErrPathTraversal) {
		t.Fatalf("got %v, want path traversal", err)
	}
}

func TestStreamText(t *testing.T) {
	// WHAT: Text operators are decoded, positioning becomes spaces.
	// WHY: PDF text is only reachable through content stream operators.
	stream := []byte("BT\n/F1 12 Tf\n(Hello) Tj\n0 -14 Td\n[(Wor) -20 (ld)] TJ\n0 -14 Td\n(f\\(x\\) \\101) Tj\nET")
	if got := streamText(stream); got != "Hello World f(x) A" {
		t.Errorf("got %q", got)
	}
}
