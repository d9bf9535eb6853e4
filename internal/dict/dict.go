// Package dict loads the run-level dictionary files: the character
// transliteration table, ISO language code mappings, per-language street
// type abbreviations and toponym aliases, and the country-to-language map.
// Missing optional files resolve to empty dictionaries; malformed required
// files fail the run.
package dict

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Dictionaries owns all dictionary state for one run. Per-language files are
// loaded lazily and memoized.
type Dictionaries struct {
	dataDir string

	translit     map[rune]string
	iso3ToISO2   map[string]string
	countryLangs map[string]string

	streetTypes map[string]map[string][]string
	toponyms    map[string]map[string][]string
}

// Load reads the transliteration table and ISO3-to-ISO2 language map from
// dataDir. Either file may be absent, yielding pass-through behavior.
func Load(dataDir string) (*Dictionaries, error) {
	d := &Dictionaries{
		dataDir:     dataDir,
		translit:    map[rune]string{},
		iso3ToISO2:  map[string]string{},
		streetTypes: map[string]map[string][]string{},
		toponyms:    map[string]map[string][]string{},
	}

	table := map[string]string{}
	if err := loadJSON(filepath.Join(dataDir, "transliteration_table.json"), &table); err != nil {
		return nil, err
	}
	for key, val := range table {
		for _, r := range key {
			d.translit[r] = val
			break
		}
	}

	if err := loadJSON(filepath.Join(dataDir, "iso3_to_iso2_langs.json"), &d.iso3ToISO2); err != nil {
		return nil, err
	}
	return d, nil
}

func loadJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "dict: read %s", path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "dict: parse %s", path)
	}
	return nil
}

// Transliterate folds a rune through the transliteration table; unmapped
// runes pass through unchanged.
func (d *Dictionaries) Transliterate(r rune) string {
	if mapped, ok := d.translit[r]; ok {
		return mapped
	}
	return string(r)
}

// TransliterationTable returns the loaded table keyed by source character.
func (d *Dictionaries) TransliterationTable() map[string]string {
	out := make(map[string]string, len(d.translit))
	for r, mapped := range d.translit {
		out[string(r)] = mapped
	}
	return out
}

// ISO2Lang maps an ISO 639-3 language code to ISO 639-1.
func (d *Dictionaries) ISO2Lang(iso3 string) (string, bool) {
	lang, ok := d.iso3ToISO2[iso3]
	return lang, ok
}

// CountryLanguage returns the main language of an ISO country code, or ""
// when unknown. The country_language.tsv file is loaded on first use; only
// the first listed language per country is kept.
func (d *Dictionaries) CountryLanguage(isoCountry string) string {
	if isoCountry == "" {
		return ""
	}
	if d.countryLangs == nil {
		d.countryLangs = map[string]string{}
		path := filepath.Join(d.dataDir, "language", "countries", "country_language.tsv")
		_ = eachLine(path, func(line string) {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return
			}
			country := strings.ToLower(fields[0])
			if _, ok := d.countryLangs[country]; !ok {
				d.countryLangs[country] = strings.ToLower(fields[1])
			}
		})
	}
	return d.countryLangs[strings.ToLower(isoCountry)]
}

// StreetTypes returns the abbreviation map of a language: every member of a
// pipe-separated equivalence class maps to all other members of its class.
func (d *Dictionaries) StreetTypes(lang string) map[string][]string {
	if cached, ok := d.streetTypes[lang]; ok {
		return cached
	}
	abbrevs := map[string][]string{}
	path := filepath.Join(d.dataDir, "dictionaries", lang, "street_types.txt")
	_ = eachLine(path, func(line string) {
		names := splitTrim(line)
		for i, alias := range names {
			for j, name := range names {
				if i == j {
					continue
				}
				if !contains(abbrevs[name], alias) {
					abbrevs[name] = append(abbrevs[name], alias)
				}
			}
		}
	})
	d.streetTypes[lang] = abbrevs
	return abbrevs
}

// Toponyms returns the alias lists of a language keyed by lowercased
// canonical name.
func (d *Dictionaries) Toponyms(lang string) map[string][]string {
	if cached, ok := d.toponyms[lang]; ok {
		return cached
	}
	toponyms := map[string][]string{}
	path := filepath.Join(d.dataDir, "dictionaries", lang, "toponyms.txt")
	_ = eachLine(path, func(line string) {
		names := splitTrim(line)
		if len(names) < 2 {
			return
		}
		key := strings.ToLower(names[0])
		toponyms[key] = append(toponyms[key], names[1:]...)
	})
	d.toponyms[lang] = toponyms
	return toponyms
}

func eachLine(path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r\n"); line != "" {
			fn(line)
		}
	}
	return scanner.Err()
}

func splitTrim(line string) []string {
	parts := strings.Split(line, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
