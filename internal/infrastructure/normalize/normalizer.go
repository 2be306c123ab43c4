package normalize

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Normalizer folds raw issuer strings to canonical keys: diacritics and
// punctuation stripped, case folded, whitespace collapsed, then the alias
// table applied. Deterministic and side-effect free.
type Normalizer struct {
	aliases map[string]string
}

type aliasFile struct {
	Aliases map[string][]string `yaml:"aliases"`
}

func New() *Normalizer {
	return &Normalizer{aliases: map[string]string{}}
}

// NewFromFile loads a YAML alias table mapping canonical keys to their
// known spellings:
//
//	aliases:
//	  EDF: ["E.D.F", "EDF SA", "Electricite de France"]
func NewFromFile(path string) (*Normalizer, error) {
	n := New()
	if path == "" {
		return n, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias table: %w", err)
	}
	var parsed aliasFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse alias table: %w", err)
	}

	for canonical, variants := range parsed.Aliases {
		key := fold(canonical)
		if key == "" {
			continue
		}
		n.aliases[key] = key
		for _, variant := range variants {
			if folded := fold(variant); folded != "" {
				n.aliases[folded] = key
			}
		}
	}
	return n, nil
}

func (n *Normalizer) Normalize(raw string) string {
	folded := fold(raw)
	if folded == "" {
		return ""
	}
	if canonical, ok := n.aliases[folded]; ok {
		return canonical
	}
	return folded
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func fold(raw string) string {
	flattened, _, err := transform.String(stripMarks, raw)
	if err != nil {
		flattened = raw
	}

	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToUpper(flattened) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
