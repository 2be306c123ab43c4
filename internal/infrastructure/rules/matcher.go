package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

// Rule is one keyword/regex signature for a base category. Confidence is
// the score assigned when the signature matches.
type Rule struct {
	Category   string   `yaml:"category"`
	Keywords   []string `yaml:"keywords"`
	Patterns   []string `yaml:"patterns"`
	Confidence float64  `yaml:"confidence"`

	compiled []*regexp.Regexp
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Matcher scans extracted text and the filename against the rule table.
// First matching rule wins; rules are ordered most-specific first.
type Matcher struct {
	rules []Rule
}

// DefaultRules covers the seed taxonomy for French administrative paperwork.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category:   "factures",
			Keywords:   []string{"facture", "invoice", "montant ttc", "a payer avant"},
			Patterns:   []string{`(?i)n[°o]\s*de\s*facture`, `(?i)total\s+ttc`},
			Confidence: 0.9,
		},
		{
			Category:   "impots",
			Keywords:   []string{"avis d'imposition", "impot sur le revenu", "taxe fonciere", "direction generale des finances publiques"},
			Patterns:   []string{`(?i)numero\s+fiscal`},
			Confidence: 0.9,
		},
		{
			Category:   "banque",
			Keywords:   []string{"releve de compte", "rib", "iban", "solde crediteur"},
			Patterns:   []string{`(?i)\bFR\d{2}[ ]?\d{4}`},
			Confidence: 0.85,
		},
		{
			Category:   "sante",
			Keywords:   []string{"assurance maladie", "remboursement de soins", "mutuelle", "feuille de soins"},
			Confidence: 0.85,
		},
		{
			Category:   "contrats",
			Keywords:   []string{"contrat", "conditions generales", "souscription", "resiliation"},
			Confidence: 0.75,
		},
		{
			Category:   "identite",
			Keywords:   []string{"carte nationale d'identite", "passeport", "acte de naissance"},
			Confidence: 0.9,
		},
	}
}

func NewMatcher(table []Rule) (*Matcher, error) {
	compiled := make([]Rule, 0, len(table))
	for _, rule := range table {
		if strings.TrimSpace(rule.Category) == "" {
			return nil, fmt.Errorf("rule without category")
		}
		if rule.Confidence <= 0 || rule.Confidence > 1 {
			return nil, fmt.Errorf("rule %q: confidence out of range: %v", rule.Category, rule.Confidence)
		}
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: compile pattern %q: %w", rule.Category, pattern, err)
			}
			rule.compiled = append(rule.compiled, re)
		}
		compiled = append(compiled, rule)
	}
	return &Matcher{rules: compiled}, nil
}

// NewMatcherFromFile loads a YAML rule table, falling back to the default
// table when path is empty.
func NewMatcherFromFile(path string) (*Matcher, error) {
	if path == "" {
		return NewMatcher(DefaultRules())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	var parsed ruleFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	if len(parsed.Rules) == 0 {
		return nil, fmt.Errorf("rule table %s contains no rules", path)
	}
	return NewMatcher(parsed.Rules)
}

func (m *Matcher) Match(text, filename string) (domain.Classification, bool) {
	haystack := strings.ToLower(text + "\n" + filename)
	for _, rule := range m.rules {
		if rule.matches(haystack) {
			return domain.Classification{
				Category:   rule.Category,
				Confidence: rule.Confidence,
			}, true
		}
	}
	return domain.Classification{}, false
}

// BaseCategories lists the categories named by the rule table; they seed
// the classification store as base entries.
func (m *Matcher) BaseCategories() []string {
	seen := make(map[string]struct{}, len(m.rules))
	out := make([]string, 0, len(m.rules))
	for _, rule := range m.rules {
		if _, ok := seen[rule.Category]; ok {
			continue
		}
		seen[rule.Category] = struct{}{}
		out = append(out, rule.Category)
	}
	return out
}

func (r *Rule) matches(haystack string) bool {
	for _, keyword := range r.Keywords {
		if strings.Contains(haystack, strings.ToLower(keyword)) {
			return true
		}
	}
	for _, re := range r.compiled {
		if re.MatchString(haystack) {
			return true
		}
	}
	return false
}
