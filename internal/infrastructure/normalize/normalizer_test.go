package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFoldsCasePunctuationAndDiacritics(t *testing.T) {
	n := New()

	assert.Equal(t, "E D F", n.Normalize("E.D.F"))
	assert.Equal(t, "ELECTRICITE DE FRANCE", n.Normalize("Électricité de France"))
	assert.Equal(t, "CAISSE D EPARGNE", n.Normalize("  caisse   d'épargne "))
	assert.Equal(t, "", n.Normalize("  ...  "))
	assert.Equal(t, "", n.Normalize(""))
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := New()
	first := n.Normalize("Ameli - Assurance Maladie")
	second := n.Normalize("Ameli - Assurance Maladie")
	assert.Equal(t, first, second)
}

func TestAliasTableCollapsesVariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	table := `aliases:
  EDF: ["E.D.F", "EDF SA", "Electricité de France"]
  CPAM: ["Assurance Maladie", "ameli"]
`
	require.NoError(t, os.WriteFile(path, []byte(table), 0o600))

	n, err := NewFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "EDF", n.Normalize("E.D.F"))
	assert.Equal(t, "EDF", n.Normalize("edf sa"))
	assert.Equal(t, "EDF", n.Normalize("Électricité de France"))
	assert.Equal(t, "CPAM", n.Normalize("AMELI"))
	// Unknown strings pass through normalized but unmapped.
	assert.Equal(t, "ENGIE", n.Normalize("Engie"))
}

func TestNewFromFileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliases: [broken"), 0o600))

	_, err := NewFromFile(path)
	require.Error(t, err)
}
