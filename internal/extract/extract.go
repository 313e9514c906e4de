// Package extract converts uploaded document bytes into plain text.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFormat is returned for filename suffixes outside the
// supported set. The caller must fix the input; retrying cannot help.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Error wraps a decoding failure with the format being decoded.
type Error struct {
	Format Format
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Format, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Format identifies a supported document format.
type Format string

const (
	FormatPDF      Format = "PDF"
	FormatDOCX     Format = "DOCX"
	FormatMarkdown Format = "Markdown"
	FormatJSON     Format = "JSON"
)

var formatBySuffix = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".txt":      FormatMarkdown,
	".json":     FormatJSON,
}

// DetectFormat maps a filename suffix to a Format.
func DetectFormat(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := formatBySuffix[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// Extract decodes the document bytes according to the filename suffix and
// returns the full text plus the detected format. A decoding failure never
// returns partial text.
func Extract(data []byte, filename string) (string, Format, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return "", "", err
	}

	var text string
	switch format {
	case FormatPDF:
		text, err = extractPDF(data)
	case FormatDOCX:
		text, err = extractDOCX(data)
	case FormatMarkdown:
		text, err = extractMarkdown(data)
	case FormatJSON:
		text, err = extractQA(data)
	}
	if err != nil {
		return "", format, &Error{Format: format, Err: err}
	}
	return text, format, nil
}

// extractMarkdown treats the payload as UTF-8 text verbatim.
func extractMarkdown(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("payload is not valid UTF-8")
	}
	return strings.TrimSpace(string(data)), nil
}

// qaRecord is one entry of a structured Q&A payload.
type qaRecord struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category,omitempty"`
	Intent   string `json:"intent,omitempty"`
}

// extractQA renders question/answer records as labeled blocks. Payloads
// that are valid JSON but not a Q&A sequence fall back to a pretty-printed
// serialization.
func extractQA(data []byte) (string, error) {
	var records []qaRecord
	if err := json.Unmarshal(data, &records); err == nil && isQASequence(records) {
		blocks := make([]string, 0, len(records))
		for _, r := range records {
			var b strings.Builder
			if r.Category != "" {
				fmt.Fprintf(&b, "Category: %s\n", r.Category)
			}
			if r.Intent != "" {
				fmt.Fprintf(&b, "Intent: %s\n", r.Intent)
			}
			fmt.Fprintf(&b, "Q: %s\n", r.Question)
			fmt.Fprintf(&b, "A: %s\n", r.Answer)
			b.WriteString("---")
			blocks = append(blocks, b.String())
		}
		return strings.TrimSpace(strings.Join(blocks, "\n")), nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("malformed JSON: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return "", fmt.Errorf("malformed JSON: %w", err)
	}
	return strings.TrimSpace(pretty.String()), nil
}

func isQASequence(records []qaRecord) bool {
	if len(records) == 0 {
		return false
	}
	for _, r := range records {
		if r.Question == "" || r.Answer == "" {
			return false
		}
	}
	return true
}
