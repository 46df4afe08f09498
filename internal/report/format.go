package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	// FormatPDF renders HTML; conversion to PDF is left to an external tool.
	FormatPDF  Format = "pdf"
	FormatNone Format = "none"
)

var Formats = []Format{FormatMarkdown, FormatJSON, FormatHTML, FormatPDF, FormatNone}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatNone, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported report format: %s", s)
}

// Extension is the file extension written for f.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatHTML, FormatPDF:
		return "html"
	default:
		return "md"
	}
}

// Render writes r to w in format f.
func Render(w io.Writer, f Format, r *Report) error {
	switch f {
	case FormatMarkdown:
		return renderMarkdown(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatHTML, FormatPDF:
		return renderHTML(w, r)
	default:
		return fmt.Errorf("unsupported report format: %s", f)
	}
}

// FileName is cleanup-report-<timestamp>.<ext>.
func FileName(f Format, at time.Time) string {
	return fmt.Sprintf("cleanup-report-%s.%s", at.Format("20060102-150405"), f.Extension())
}

// Write renders r into dir and returns the file path. FormatNone writes
// nothing and returns "".
func Write(dir string, f Format, r *Report, logger *zap.Logger) (string, error) {
	if f == FormatNone {
		return "", nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var buf bytes.Buffer
	if err := Render(&buf, f, r); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, FileName(f, r.Metadata.GeneratedAt))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	if f == FormatPDF {
		pdf := strings.TrimSuffix(path, filepath.Ext(path)) + ".pdf"
		logger.Warn("pdf reports are written as html; convert with an external tool",
			zap.String("html", path),
			zap.String("example", fmt.Sprintf("wkhtmltopdf %s %s", path, pdf)),
		)
	}
	logger.Info("report written", zap.String("path", path), zap.String("format", string(f)))
	return path, nil
}
