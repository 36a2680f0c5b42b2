// Package critique extracts the agree/critique signal from free-text model output.
//
// Models are asked to answer with two marked lines:
//
//	同意: 是|否
//	批判: ...
//
// Everything else in the response is ignored.
package critique

import (
	"strings"
	"unicode"

	"github.com/alienxp03/deepdiscussion/internal/core"
)

const (
	// AgreementMarker prefixes the agreement line.
	AgreementMarker = "同意:"
	// CritiqueMarker prefixes the critique line.
	CritiqueMarker = "批判:"
	// SevereMarker flags a critique as a severe deficiency.
	SevereMarker = "严重不足"
	// NegativeToken marks a disagreement.
	NegativeToken = "否"
)

// Parser classifies critique responses. The zero value is not usable; use Default or New.
type Parser struct {
	agreementMarkers []string
	critiqueMarkers  []string
	negativeTokens   []string
	severeMarker     string
}

// Default returns the parser for the standard marker set. It also accepts the
// full-width colon variants models tend to emit.
func Default() *Parser {
	return &Parser{
		agreementMarkers: []string{AgreementMarker, "同意："},
		critiqueMarkers:  []string{CritiqueMarker, "批判："},
		negativeTokens:   []string{NegativeToken, "no"},
		severeMarker:     SevereMarker,
	}
}

// New returns a parser with custom markers. Empty arguments fall back to the defaults.
func New(agreement, critiqueMarker, severe string, negatives ...string) *Parser {
	p := Default()
	if agreement != "" {
		p.agreementMarkers = []string{agreement}
	}
	if critiqueMarker != "" {
		p.critiqueMarkers = []string{critiqueMarker}
	}
	if severe != "" {
		p.severeMarker = severe
	}
	if len(negatives) > 0 {
		p.negativeTokens = negatives
	}
	return p
}

// Parse never fails. A response without an agreement line counts as YES.
// When a marker appears on several lines the last one wins.
func (p *Parser) Parse(raw string) core.CritiqueResult {
	var agreement, critiqueText string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := cutAny(line, p.agreementMarkers); ok {
			agreement = v
		} else if v, ok := cutAny(line, p.critiqueMarkers); ok {
			critiqueText = v
		}
	}

	result := core.CritiqueResult{
		Agreement: core.AgreementYes,
		Critique:  critiqueText,
		Severe:    p.severeMarker != "" && strings.Contains(critiqueText, p.severeMarker),
	}
	if p.IsNegative(agreement) {
		result.Agreement = core.AgreementNo
	}
	return result
}

// IsNegative reports whether an agreement field carries a negative token.
// Tokens made of letters match whole words only, so "cannot" is not "no".
func (p *Parser) IsNegative(field string) bool {
	lower := strings.ToLower(field)
	for _, tok := range p.negativeTokens {
		tok = strings.ToLower(tok)
		if tok == "" {
			continue
		}
		if isLatinWord(tok) {
			if containsWord(lower, tok) {
				return true
			}
			continue
		}
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func cutAny(line string, markers []string) (string, bool) {
	for _, m := range markers {
		if rest, ok := strings.CutPrefix(line, m); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

func isLatinWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func containsWord(s, word string) bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r > unicode.MaxASCII || !unicode.IsLetter(r)
	})
	for _, f := range fields {
		if f == word {
			return true
		}
	}
	return false
}
