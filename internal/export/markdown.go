package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/alienxp03/deepdiscussion/internal/core"
	"github.com/alienxp03/deepdiscussion/internal/transcript"
)

// MarkdownExporter exports debates to Markdown. The transcript body is the
// same format the live Markdown log uses.
type MarkdownExporter struct{}

// Export writes the debate as Markdown.
func (e *MarkdownExporter) Export(debate *core.Debate, entries []*core.Entry, w io.Writer) error {
	var sb strings.Builder

	sb.WriteString("## 讨论信息\n\n")
	sb.WriteString(fmt.Sprintf("- **ID:** `%s`\n", debate.ID))
	sb.WriteString(fmt.Sprintf("- **状态:** %s\n", debate.Status))
	sb.WriteString(fmt.Sprintf("- **参与者:** %s\n", strings.Join(debate.Roster, ", ")))
	sb.WriteString(fmt.Sprintf("- **创建时间:** %s\n", debate.CreatedAt.Format("2006-01-02 15:04")))
	if debate.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("- **用时:** %s\n", formatDuration(debate.CreatedAt, *debate.CompletedAt)))
	}
	if debate.Reason != "" {
		sb.WriteString(fmt.Sprintf("- **轮数:** %d\n", debate.Rounds))
		sb.WriteString(fmt.Sprintf("- **结束原因:** %s\n", debate.Reason))
	}
	if len(debate.Ledger) > 0 {
		sb.WriteString(fmt.Sprintf("- **挑战次数:** %s\n", core.FormatLedger(debate.Ledger)))
	}
	sb.WriteString("\n---\n\n")

	if len(entries) == 0 {
		sb.WriteString(fmt.Sprintf("# 问题: %s\n\n*No entries recorded.*\n", debate.Question))
	} else {
		var f transcript.MarkdownFormatter
		for _, entry := range entries {
			sb.WriteString(f.Format(*entry))
		}
	}

	sb.WriteString("\n---\n*Exported from deepdiscussion*\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return "md"
}

// ContentType returns the MIME type for Markdown.
func (e *MarkdownExporter) ContentType() string {
	return "text/markdown; charset=utf-8"
}
