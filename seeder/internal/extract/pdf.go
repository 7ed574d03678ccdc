package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const maxPDFTitle = 200

// extractPDF returns a title (first non-empty line) and the page texts
// separated by blank lines. Scanned PDFs without text operators fail.
func extractPDF(path string) (string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	pdf, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return "", "", fmt.Errorf("pdf: %w", err)
	}

	var pages []string
	for nr := 1; nr <= pdf.PageCount; nr++ {
		if text := pageText(pdf, nr); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", "", fmt.Errorf("pdf: %w", ErrEmpty)
	}

	title := pages[0]
	if r := []rune(title); len(r) > maxPDFTitle {
		title = string(r[:maxPDFTitle])
	}
	return title, strings.Join(pages, "\n\n"), nil
}

func pageText(pdf *model.Context, nr int) string {
	r, err := pdfcpu.ExtractPageContent(pdf, nr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return streamText(data)
}

var pdfLiteralRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// streamText collects string operands of the text-showing operators
// (Tj, TJ, ') and inserts spacing for positioning operators (Td, TD, T*).
func streamText(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfLiteralRe.FindAllSubmatch(line, -1) {
				sb.WriteString(unescapePDF(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.IndexByte(line, '(') >= 0:
			for _, m := range pdfLiteralRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(unescapePDF(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}
	return collapseSpace(sb.String())
}

// unescapePDF resolves backslash escapes in a PDF literal string,
// including up to three octal digits.
func unescapePDF(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch c = raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			val := int(c - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func collapseSpace(text string) string {
	var sb strings.Builder
	space := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !space && sb.Len() > 0 {
				sb.WriteByte(' ')
				space = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(sb.String())
}
