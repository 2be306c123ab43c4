package ollama

import (
	"strings"
	"unicode/utf8"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

func buildAnalysisPrompt(text string, kinds []domain.AnalysisKind) string {
	const maxSnippet = 4000
	snippet := text
	if len(snippet) > maxSnippet {
		// Back off to a rune boundary so the cut never splits a UTF-8
		// sequence.
		cut := maxSnippet
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut]
	}

	wantSummary := false
	for _, kind := range kinds {
		if kind == domain.AnalysisSummary {
			wantSummary = true
		}
	}

	var b strings.Builder
	b.WriteString(`You are an archivist for administrative documents.
Return a strict JSON object with keys:
category (string, lowercase, e.g. "factures", "impots", "banque", "sante", "contrats", "identite"; invent a new lowercase name if none fits),
issuer (string, the organization that produced the document, empty if unknown),
confidence (number from 0 to 1)`)
	if wantSummary {
		b.WriteString(",\nsummary (string, one sentence), tags (array of strings)")
	}
	b.WriteString(`.
No markdown, no extra keys.

Document:
`)
	b.WriteString(snippet)
	return b.String()
}
