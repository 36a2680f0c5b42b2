package export

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

const unicodeFamily = "unicode"

// PDFExporter exports debates to PDF format. Without FontPath the core
// Arial font is used and text outside Latin-1 is replaced.
type PDFExporter struct {
	FontPath string
}

type pdfWriter struct {
	pdf       *gofpdf.Fpdf
	family    string
	translate func(string) string
}

func (p *pdfWriter) font(style string, size float64) {
	if p.family == unicodeFamily {
		style = ""
	}
	p.pdf.SetFont(p.family, style, size)
}

func (p *pdfWriter) text(s string) string {
	return p.translate(s)
}

// Export writes the debate as PDF.
func (e *PDFExporter) Export(debate *core.Debate, entries []*core.Entry, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	p := &pdfWriter{pdf: pdf, family: "Arial"}
	if e.FontPath != "" {
		if _, err := os.Stat(e.FontPath); err != nil {
			return fmt.Errorf("failed to load PDF font: %w", err)
		}
		pdf.AddUTF8Font(unicodeFamily, "", e.FontPath)
		p.family = unicodeFamily
		p.translate = func(s string) string { return s }
	} else {
		tr := pdf.UnicodeTranslatorFromDescriptor("")
		p.translate = func(s string) string { return tr(sanitizeText(s)) }
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to load PDF font: %w", err)
	}

	pdf.AddPage()

	// Title
	p.font("B", 18)
	pdf.MultiCell(0, 10, p.text(debate.Question), "", "C", false)
	pdf.Ln(5)

	// Metadata section
	p.font("B", 12)
	pdf.Cell(0, 8, "Debate Information")
	pdf.Ln(8)

	e.addMetadataRow(p, "ID:", debate.ID)
	e.addMetadataRow(p, "Status:", string(debate.Status))
	e.addMetadataRow(p, "Participants:", strings.Join(debate.Roster, ", "))
	e.addMetadataRow(p, "Created:", debate.CreatedAt.Format("January 2, 2006 at 3:04 PM"))
	if debate.CompletedAt != nil {
		e.addMetadataRow(p, "Duration:", formatDuration(debate.CreatedAt, *debate.CompletedAt))
	}
	if debate.Reason != "" {
		e.addMetadataRow(p, "Rounds:", fmt.Sprintf("%d", debate.Rounds))
		e.addMetadataRow(p, "Reason:", string(debate.Reason))
	}
	if len(debate.Ledger) > 0 {
		e.addMetadataRow(p, "Challenges:", core.FormatLedger(debate.Ledger))
	}
	pdf.Ln(5)

	// Transcript
	p.font("B", 12)
	pdf.Cell(0, 8, "Transcript")
	pdf.Ln(8)

	if len(entries) == 0 {
		p.font("I", 10)
		pdf.Cell(0, 6, "No entries recorded.")
		pdf.Ln(6)
	}

	round := 0
	for _, entry := range entries {
		if entry.Kind == core.KindQuestion {
			continue
		}
		if pdf.GetY() > 250 {
			pdf.AddPage()
		}
		if entry.Round > round && entry.Kind != core.KindFinalSolution {
			round = entry.Round
			p.font("B", 11)
			pdf.CellFormat(0, 8, fmt.Sprintf("Round %d", round), "B", 1, "", false, 0, "")
			pdf.Ln(2)
		}

		switch entry.Kind {
		case core.KindProposal:
			pdf.SetFillColor(200, 230, 255) // Light blue
		case core.KindCritique:
			if entry.Severe || entry.Agreement == core.AgreementNo {
				pdf.SetFillColor(255, 200, 200) // Light red
			} else {
				pdf.SetFillColor(200, 255, 200) // Light green
			}
		case core.KindFinalSolution:
			pdf.SetFillColor(255, 240, 180) // Light amber
		default:
			pdf.SetFillColor(235, 235, 235)
		}

		p.font("B", 10)
		pdf.CellFormat(0, 7, p.text(entry.Label()), "", 1, "", true, 0, "")

		if entry.Kind != core.KindHostChange {
			p.font("", 9)
			pdf.SetFillColor(255, 255, 255)
			pdf.MultiCell(0, 5, p.text(entry.Text), "", "", false)
		}
		pdf.Ln(4)
	}

	// Footer
	pdf.SetY(-15)
	p.font("I", 8)
	pdf.CellFormat(0, 10, "Exported from deepdiscussion", "", 0, "C", false, 0, "")

	return pdf.Output(w)
}

// FileExtension returns the file extension for PDF.
func (e *PDFExporter) FileExtension() string {
	return "pdf"
}

// ContentType returns the MIME type for PDF.
func (e *PDFExporter) ContentType() string {
	return "application/pdf"
}

func (e *PDFExporter) addMetadataRow(p *pdfWriter, label, value string) {
	p.font("B", 10)
	p.pdf.Cell(30, 5, label)
	p.font("", 10)
	p.pdf.Cell(0, 5, p.text(value))
	p.pdf.Ln(5)
}

// sanitizeText maps typographic punctuation to ASCII and replaces anything
// the core fonts cannot encode with '?'.
func sanitizeText(text string) string {
	replacer := strings.NewReplacer(
		"‘", "'",
		"’", "'",
		"“", "\"",
		"”", "\"",
		"–", "-",
		"—", "--",
		"…", "...",
		"•", "*",
		" ", " ",
		"：", ":",
		"，", ",",
		"。", ".",
	)
	text = replacer.Replace(text)
	return strings.Map(func(r rune) rune {
		if r > 0xFF {
			return '?'
		}
		return r
	}, text)
}
