package transcript

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

// DefaultMarkdownPath is the log file written next to the working directory.
const DefaultMarkdownPath = "deep_discussion.md"

// MarkdownFormatter renders entries as Markdown one at a time. It remembers
// the last round so that a round heading is emitted when the round changes.
type MarkdownFormatter struct {
	round int
}

// Format returns the Markdown block for entry.
func (f *MarkdownFormatter) Format(entry core.Entry) string {
	var sb strings.Builder

	if entry.Round > f.round && entry.Kind != core.KindFinalSolution {
		f.round = entry.Round
		sb.WriteString(fmt.Sprintf("\n# 第 %d 轮讨论开始\n---\n", entry.Round))
	}

	switch entry.Kind {
	case core.KindQuestion:
		f.round = 0
		sb.WriteString(fmt.Sprintf("# 问题: %s\n\n", entry.Text))
		if len(entry.Roster) > 0 {
			sb.WriteString(fmt.Sprintf("参与者: %s\n\n", strings.Join(entry.Roster, ", ")))
		}
	case core.KindHostChange:
		sb.WriteString(fmt.Sprintf("> %s\n\n", entry.Label()))
	case core.KindFinalSolution:
		sb.WriteString(fmt.Sprintf("\n# 最佳方案: %s\n", entry.Text))
		if entry.Participant != "" {
			sb.WriteString(fmt.Sprintf("\n- **提出者:** %s (第 %d 轮)\n", entry.Participant, entry.Round))
		}
		if entry.Reason != "" {
			sb.WriteString(fmt.Sprintf("- **结束原因:** %s\n", entry.Reason))
		}
		sb.WriteString("\n")
	default:
		sb.WriteString(fmt.Sprintf("## **%s**\n%s\n\n", entry.Label(), entry.Text))
	}

	return sb.String()
}

// MarkdownSink appends every entry to a Markdown file.
type MarkdownSink struct {
	mu        sync.Mutex
	w         io.WriteCloser
	path      string
	formatter MarkdownFormatter
}

// NewMarkdownSink opens path for appending, creating it and its directory as needed.
func NewMarkdownSink(path string) (*MarkdownSink, error) {
	if path == "" {
		path = DefaultMarkdownPath
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create transcript directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	return &MarkdownSink{w: f, path: path}, nil
}

// Path returns the file being written.
func (s *MarkdownSink) Path() string {
	return s.path
}

// Record appends entry. Write failures are logged, never returned.
func (s *MarkdownSink) Record(entry core.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.w, s.formatter.Format(entry)); err != nil {
		slog.Error("Failed to append transcript entry", "path", s.path, "seq", entry.Seq, "error", err)
	}
}

// Close closes the file.
func (s *MarkdownSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
