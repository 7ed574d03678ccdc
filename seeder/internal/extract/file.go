// CLAUDE:SUMMARY Local file extractor: extension-based category (text/markdown/code/data/pdf), encoding fallback chain, fenced code.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/hazyhaar/seeder/horosafe"
	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

const maxFileBytes = 50 * 1024 * 1024

// Category is the content family of a local file.
type Category string

const (
	CategoryText     Category = "text"
	CategoryMarkdown Category = "markdown"
	CategoryCode     Category = "code"
	CategoryData     Category = "data"
	CategoryPDF      Category = "pdf"
)

var textExtensions = map[string]Category{
	".txt": CategoryText, ".text": CategoryText, ".rst": CategoryText, ".adoc": CategoryText, ".log": CategoryText,
	".md": CategoryMarkdown, ".markdown": CategoryMarkdown, ".mdx": CategoryMarkdown,
	".json": CategoryData, ".yaml": CategoryData, ".yml": CategoryData, ".toml": CategoryData,
	".csv": CategoryData, ".tsv": CategoryData, ".xml": CategoryData, ".ini": CategoryData,
	".pdf": CategoryPDF,
}

// codeLanguages maps code extensions to fence language tags.
var codeLanguages = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".mjs": "javascript", ".ts": "typescript",
	".tsx": "tsx", ".jsx": "jsx", ".rs": "rust", ".java": "java", ".kt": "kotlin",
	".c": "c", ".h": "c", ".cpp": "cpp", ".cc": "cpp", ".hpp": "cpp", ".cs": "csharp",
	".rb": "ruby", ".php": "php", ".swift": "swift", ".scala": "scala", ".sh": "bash",
	".bash": "bash", ".zsh": "zsh", ".sql": "sql", ".lua": "lua", ".r": "r", ".pl": "perl",
	".hs": "haskell", ".ex": "elixir", ".exs": "elixir", ".clj": "clojure", ".dart": "dart",
	".vue": "vue", ".svelte": "svelte", ".css": "css", ".scss": "scss", ".html": "html",
	".htm": "html", ".proto": "protobuf", ".tf": "hcl", ".dockerfile": "dockerfile",
}

// File reads sources that live on the local filesystem.
type File struct {
	root string
	max  int
}

// NewFile creates the local file extractor.
func NewFile(cfg Config) *File {
	cfg.defaults()
	return &File{root: cfg.FileRoot, max: cfg.MaxContentLength}
}

func (f *File) Name() string { return "file" }

func (f *File) CanHandle(src catalog.Source) bool {
	return handles(src, catalog.TypeFile) && catalog.IsLocalPath(src.URL)
}

func (f *File) Extract(ctx context.Context, src catalog.Source) (*Result, error) {
	path, err := horosafe.ExpandPath(src.URL)
	if err != nil {
		return nil, permanentErr(f.Name(), src.URL, err)
	}
	if path, err = horosafe.Confine(f.root, path); err != nil {
		return nil, permanentErr(f.Name(), src.URL, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, permanentErr(f.Name(), src.URL, fmt.Errorf("%w: %s", ErrNotFound, path))
		}
		return nil, transientErr(f.Name(), src.URL, err)
	}
	if info.IsDir() {
		return nil, permanentErr(f.Name(), src.URL, fmt.Errorf("%s is a directory", path))
	}
	if info.Size() > maxFileBytes {
		return nil, permanentErr(f.Name(), src.URL, fmt.Errorf("file exceeds %d bytes", maxFileBytes))
	}
	if err := ctx.Err(); err != nil {
		return nil, permanentErr(f.Name(), src.URL, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	category, lang := classify(path, ext)

	var (
		content  string
		encoding string
		title    = filepath.Base(path)
	)
	if category == CategoryPDF {
		pdfTitle, text, err := extractPDF(path)
		if err != nil {
			return nil, permanentErr(f.Name(), src.URL, err)
		}
		content = text
		if pdfTitle != "" {
			title = pdfTitle
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, transientErr(f.Name(), src.URL, err)
		}
		if category == "" {
			if looksBinary(data) {
				return nil, permanentErr(f.Name(), src.URL, fmt.Errorf("unsupported file type %q", ext))
			}
			category = CategoryText
		}
		text, enc := decodeText(data)
		encoding = enc
		content = render(category, lang, ext, normalize(text))
		if category == CategoryMarkdown {
			if h := firstHeading(text); h != "" {
				title = h
			}
		}
	}

	if strings.TrimSpace(content) == "" {
		return nil, permanentErr(f.Name(), src.URL, ErrEmpty)
	}

	return &Result{
		Content:    truncate(content, f.max),
		Title:      title,
		SourceURL:  src.URL,
		SourceType: catalog.TypeFile,
		Metadata: map[string]string{
			"filename":   filepath.Base(path),
			"extension":  ext,
			"size_bytes": strconv.FormatInt(info.Size(), 10),
			"category":   string(category),
			"is_code":    strconv.FormatBool(category == CategoryCode),
			"mime_type":  mimeType(path, ext),
			"encoding":   encoding,
		},
	}, nil
}

func classify(path, ext string) (Category, string) {
	if c, ok := textExtensions[ext]; ok {
		return c, ""
	}
	if lang, ok := codeLanguages[ext]; ok {
		return CategoryCode, lang
	}
	switch strings.ToLower(filepath.Base(path)) {
	case "dockerfile":
		return CategoryCode, "dockerfile"
	case "makefile":
		return CategoryCode, "makefile"
	}
	return "", ""
}

func render(c Category, lang, ext, text string) string {
	switch c {
	case CategoryCode:
		return "```" + lang + "\n" + text + "\n```"
	case CategoryData:
		return "```" + strings.TrimPrefix(ext, ".") + "\n" + text + "\n```"
	default:
		return text
	}
}

// decodeText applies the encoding chain: UTF-8 (BOM stripped), UTF-16 with
// BOM, then Latin-1 which accepts any byte sequence.
func decodeText(data []byte) (string, string) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), "utf-8-sig"
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		if out, err := dec.Bytes(data); err == nil {
			return string(out), "utf-16"
		}
	case utf8.Valid(data):
		return string(data), "utf-8"
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "\uFFFD"), "utf-8-replace"
	}
	return string(out), "latin-1"
}

func looksBinary(data []byte) bool {
	sample := data
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	return bytes.IndexByte(sample, 0) >= 0 && !bytes.HasPrefix(data, []byte{0xFF, 0xFE}) && !bytes.HasPrefix(data, []byte{0xFE, 0xFF})
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func mimeType(path, ext string) string {
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n])
}
