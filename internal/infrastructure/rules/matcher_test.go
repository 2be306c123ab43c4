package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchKeywordHit(t *testing.T) {
	m, err := NewMatcher(DefaultRules())
	require.NoError(t, err)

	cls, ok := m.Match("FACTURE\nMontant TTC: 42,10 EUR", "edf_juin.pdf")
	require.True(t, ok)
	assert.Equal(t, "factures", cls.Category)
	assert.InDelta(t, 0.9, cls.Confidence, 0.001)
}

func TestMatchRegexHit(t *testing.T) {
	m, err := NewMatcher(DefaultRules())
	require.NoError(t, err)

	cls, ok := m.Match("Compte courant IBAN FR76 3000 4000 0100", "releve.pdf")
	require.True(t, ok)
	assert.Equal(t, "banque", cls.Category)
}

func TestMatchConsidersFilename(t *testing.T) {
	m, err := NewMatcher(DefaultRules())
	require.NoError(t, err)

	cls, ok := m.Match("illisible", "facture-engie-2026.pdf")
	require.True(t, ok)
	assert.Equal(t, "factures", cls.Category)
}

func TestMatchReturnsFalseWithoutSignature(t *testing.T) {
	m, err := NewMatcher(DefaultRules())
	require.NoError(t, err)

	_, ok := m.Match("lorem ipsum dolor sit amet", "scan0001.pdf")
	assert.False(t, ok)
}

func TestNewMatcherRejectsBadRules(t *testing.T) {
	_, err := NewMatcher([]Rule{{Category: "", Confidence: 0.5}})
	assert.Error(t, err)

	_, err = NewMatcher([]Rule{{Category: "x", Confidence: 1.5}})
	assert.Error(t, err)

	_, err = NewMatcher([]Rule{{Category: "x", Confidence: 0.5, Patterns: []string{"("}}})
	assert.Error(t, err)
}

func TestNewMatcherFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	table := `rules:
  - category: courrier
    keywords: ["lettre recommandée"]
    confidence: 0.7
`
	require.NoError(t, os.WriteFile(path, []byte(table), 0o600))

	m, err := NewMatcherFromFile(path)
	require.NoError(t, err)

	cls, ok := m.Match("Votre lettre recommandée est disponible", "avis.pdf")
	require.True(t, ok)
	assert.Equal(t, "courrier", cls.Category)
	assert.Equal(t, []string{"courrier"}, m.BaseCategories())
}
