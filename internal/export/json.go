package export

import (
	"encoding/json"
	"io"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

// JSONExporter exports debates to JSON format.
type JSONExporter struct{}

// ExportData represents the full export structure.
type ExportData struct {
	Debate  *core.Debate  `json:"debate"`
	Entries []*core.Entry `json:"entries"`
}

// Export writes the debate as JSON.
func (e *JSONExporter) Export(debate *core.Debate, entries []*core.Entry, w io.Writer) error {
	if entries == nil {
		entries = []*core.Entry{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(ExportData{Debate: debate, Entries: entries})
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return "json"
}

// ContentType returns the MIME type for JSON.
func (e *JSONExporter) ContentType() string {
	return "application/json"
}
