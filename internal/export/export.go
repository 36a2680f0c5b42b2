// Package export handles exporting debates to various formats.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

// Format represents an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatJSON     Format = "json"
)

// Formats lists the supported formats.
var Formats = []Format{FormatMarkdown, FormatJSON, FormatPDF}

// Exporter defines the interface for exporting debates.
type Exporter interface {
	Export(debate *core.Debate, entries []*core.Entry, w io.Writer) error
	FileExtension() string
	ContentType() string
}

// Options configures exporters.
type Options struct {
	// PDFFont is a UTF-8 TTF font used by the PDF exporter.
	PDFFont string
}

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unsupported export format: %s", s)
}

// GetExporter returns an exporter for the given format.
func GetExporter(format Format, opts Options) (Exporter, error) {
	switch format {
	case FormatMarkdown:
		return &MarkdownExporter{}, nil
	case FormatPDF:
		return &PDFExporter{FontPath: opts.PDFFont}, nil
	case FormatJSON:
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// GenerateFilename creates a filename for the export.
func GenerateFilename(debate *core.Debate, ext string) string {
	question := []rune(debate.Question)
	if len(question) > 30 {
		question = question[:30]
	}

	replacer := strings.NewReplacer(
		" ", "_",
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"？", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
		"\n", "_",
	)
	name := replacer.Replace(string(question))

	timestamp := debate.CreatedAt.Format("20060102")
	return fmt.Sprintf("debate_%s_%s.%s", timestamp, name, ext)
}

func formatDuration(start, end time.Time) string {
	d := end.Sub(start)
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
