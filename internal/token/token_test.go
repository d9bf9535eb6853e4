package token

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutiteq/mobile-sdk-scripts/internal/dict"
	"github.com/nutiteq/mobile-sdk-scripts/internal/model"
)

func testDicts(t *testing.T) *dict.Dictionaries {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transliteration_table.json"),
		[]byte(`{"õ": "o", "ä": "a", "é": "e"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dictionaries", "et"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dictionaries", "et", "street_types.txt"),
		[]byte("tänav|tn\n"), 0o644))
	d, err := dict.Load(dir)
	require.NoError(t, err)
	return d
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Pirita tee":        "Pirita tee",
		"  Pirita   tee  ":  "Pirita tee",
		`"Pirita" (tee)`:    "Pirita tee",
		"a.b,c;d!e?f":       "a b c d e f",
		"under_score|pipe~": "under score pipe",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestTokenize(t *testing.T) {
	tok := NewTokenizer(testDicts(t))

	assert.Equal(t, []string{"pirita", "tee"}, tok.Tokenize("Pirita Tee"))
	// Transliteration folds mapped characters, others pass through.
	assert.Equal(t, []string{"tanav"}, tok.Tokenize("Tänav"))
	assert.Equal(t, []string{"cafe", "ž"}, tok.Tokenize("Café Ž"))
	assert.Empty(t, tok.Tokenize("   "))
}

func TestRegistryAssignsDenseIDs(t *testing.T) {
	d := testDicts(t)
	r := NewRegistry(NewTokenizer(d), d)

	r.Add("Pirita tee", model.ClassStreet, "")
	r.Add("Pirita", model.ClassLocality, "")

	require.Equal(t, 2, r.Len())
	pirita, ok := r.Lookup("pirita", "")
	require.True(t, ok)
	tee, ok := r.Lookup("tee", "")
	require.True(t, ok)
	assert.Equal(t, int64(1), pirita.ID)
	assert.Equal(t, int64(2), tee.ID)
	assert.Equal(t, int64(2), pirita.Count)
}

func TestRegistryTypeMask(t *testing.T) {
	d := testDicts(t)
	r := NewRegistry(NewTokenizer(d), d)

	r.Add("Tallinn", model.ClassLocality, "")
	r.Add("Tallinn", model.ClassName, "")

	tok, ok := r.Lookup("tallinn", "")
	require.True(t, ok)
	assert.Equal(t, model.ClassLocality.Bit()|model.ClassName.Bit(), tok.TypeMask)
}

func TestRegistryLanguageQualifiedAbbrevTokens(t *testing.T) {
	d := testDicts(t)
	r := NewRegistry(NewTokenizer(d), d)

	// "tänav" is in the Estonian street-type dictionary, so it is keyed
	// by language; "pirita" stays language-neutral.
	r.Add("Pirita tänav", model.ClassStreet, "et")

	// The dictionary matches the tokenized (transliterated) text only if
	// present verbatim; "tanav" is not, so it lands on the neutral key.
	neutral, ok := r.Lookup("tanav", "")
	require.True(t, ok)
	assert.Equal(t, "tanav", neutral.Name)

	pirita, ok := r.Lookup("pirita", "")
	require.True(t, ok)
	assert.Empty(t, pirita.Lang)
}

func TestRegistryAliases(t *testing.T) {
	d := testDicts(t)
	r := NewRegistry(NewTokenizer(d), d)

	// "tn" tokenizes to itself and is a dictionary member.
	r.Add("Pirita tn", model.ClassStreet, "et")

	tn, ok := r.Lookup("tn", "et")
	require.True(t, ok)
	rows := r.Aliases(tn)
	require.Len(t, rows, 1)
	assert.Equal(t, tn.ID, rows[0].ID)
	assert.Equal(t, "tänav", rows[0].Alias)
	assert.Equal(t, "et", rows[0].Lang)
}

func TestComputeIDFOrdering(t *testing.T) {
	d := testDicts(t)
	r := NewRegistry(NewTokenizer(d), d)

	// "tee" occurs in every name, "unikaalne" in exactly one.
	r.Add("Pirita tee", model.ClassStreet, "")
	r.Add("Kose tee", model.ClassStreet, "")
	r.Add("Unikaalne tee", model.ClassStreet, "")

	r.ComputeIDF()

	common, ok := r.Lookup("tee", "")
	require.True(t, ok)
	rare, ok := r.Lookup("unikaalne", "")
	require.True(t, ok)
	assert.LessOrEqual(t, common.IDF, rare.IDF)

	// Weights are normalized to a corpus mean of 1.0.
	var sum float64
	all := r.All()
	for _, tok := range all {
		sum += tok.IDF
	}
	assert.InDelta(t, 1.0, sum/float64(len(all)), 1e-9)
}

func TestComputeIDFEmpty(t *testing.T) {
	d := testDicts(t)
	r := NewRegistry(NewTokenizer(d), d)
	r.ComputeIDF()
	assert.Zero(t, r.Len())
}
