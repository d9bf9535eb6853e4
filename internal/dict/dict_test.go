package dict

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "transliteration_table.json"),
		`{"õ": "o", "ä": "a", "ö": "o", "ü": "u"}`)
	writeFile(t, filepath.Join(dir, "iso3_to_iso2_langs.json"),
		`{"est": "et", "rus": "ru", "eng": "en"}`)
	writeFile(t, filepath.Join(dir, "language", "countries", "country_language.tsv"),
		"ee\tet\nee\tru\nfi\tfi sv\n")
	writeFile(t, filepath.Join(dir, "dictionaries", "et", "street_types.txt"),
		"tänav|tn\npuiestee|pst\n")
	writeFile(t, filepath.Join(dir, "dictionaries", "et", "toponyms.txt"),
		"tallinn|reval\n")
	return dir
}

func TestLoadTransliteration(t *testing.T) {
	d, err := Load(testDataDir(t))
	require.NoError(t, err)

	assert.Equal(t, "o", d.Transliterate('õ'))
	assert.Equal(t, "u", d.Transliterate('ü'))
	// Unmapped runes pass through.
	assert.Equal(t, "x", d.Transliterate('x'))
	assert.Equal(t, "ž", d.Transliterate('ž'))
}

func TestLoadMissingFilesTolerated(t *testing.T) {
	d, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "a", d.Transliterate('a'))
	_, ok := d.ISO2Lang("est")
	assert.False(t, ok)
	assert.Empty(t, d.StreetTypes("et"))
	assert.Empty(t, d.Toponyms("et"))
	assert.Empty(t, d.CountryLanguage("ee"))
}

func TestISO2Lang(t *testing.T) {
	d, err := Load(testDataDir(t))
	require.NoError(t, err)

	lang, ok := d.ISO2Lang("est")
	require.True(t, ok)
	assert.Equal(t, "et", lang)

	_, ok = d.ISO2Lang("xxx")
	assert.False(t, ok)
}

func TestCountryLanguageFirstWins(t *testing.T) {
	d, err := Load(testDataDir(t))
	require.NoError(t, err)

	// Only the first language listed for a country is kept.
	assert.Equal(t, "et", d.CountryLanguage("EE"))
	assert.Equal(t, "fi", d.CountryLanguage("fi"))
	assert.Empty(t, d.CountryLanguage("xx"))
	assert.Empty(t, d.CountryLanguage(""))
}

func TestStreetTypesEquivalenceClasses(t *testing.T) {
	d, err := Load(testDataDir(t))
	require.NoError(t, err)

	abbrevs := d.StreetTypes("et")
	assert.ElementsMatch(t, []string{"tn"}, abbrevs["tänav"])
	assert.ElementsMatch(t, []string{"tänav"}, abbrevs["tn"])
	assert.ElementsMatch(t, []string{"pst"}, abbrevs["puiestee"])

	// Memoized: same map on second call.
	again := d.StreetTypes("et")
	assert.Equal(t, abbrevs, again)
}

func TestToponyms(t *testing.T) {
	d, err := Load(testDataDir(t))
	require.NoError(t, err)

	topo := d.Toponyms("et")
	assert.Equal(t, []string{"reval"}, topo["tallinn"])
	assert.Empty(t, topo["tartu"])
}
