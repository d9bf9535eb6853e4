// Package token builds the searchable token index: name normalization,
// transliterating tokenization, per-language abbreviation aliases and
// IDF weighting.
package token

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/nutiteq/mobile-sdk-scripts/internal/dict"
	"github.com/nutiteq/mobile-sdk-scripts/internal/model"
)

// Punctuation stripped from names before tokenization.
const punctuation = "\"%\\*()[]{}=;,.!?|`~^_"

// Normalize strips punctuation and collapses whitespace runs.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if strings.ContainsRune(punctuation, r) {
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var caseFolder = cases.Fold()

// Tokenizer splits names into lowercased, transliterated tokens.
type Tokenizer struct {
	dicts *dict.Dictionaries
}

// NewTokenizer returns a tokenizer folding characters through the run's
// transliteration table.
func NewTokenizer(dicts *dict.Dictionaries) *Tokenizer {
	return &Tokenizer{dicts: dicts}
}

// Tokenize case-folds the name, splits it on whitespace and transliterates
// each character; unmapped characters pass through.
func (t *Tokenizer) Tokenize(name string) []string {
	fields := strings.Fields(caseFolder.String(name))
	words := make([]string, 0, len(fields))
	for _, field := range fields {
		var b strings.Builder
		b.Grow(len(field))
		for _, r := range field {
			b.WriteString(t.dicts.Transliterate(r))
		}
		words = append(words, b.String())
	}
	return words
}

// Key identifies a token: abbreviation-dictionary tokens are qualified by
// language, all others are language-neutral.
type Key struct {
	Name string
	Lang string
}

// Token is one indexed token with its run-unique id.
type Token struct {
	ID       int64
	Name     string
	Lang     string
	TypeMask int64
	Count    int64
	IDF      float64
}

// AliasRow is an extra tokens-table row mapping an abbreviation alias to an
// existing token id.
type AliasRow struct {
	ID    int64
	Alias string
	Lang  string
}

// Registry accumulates tokens over a whole run. IDF weights require a
// scan-complete corpus: call ComputeIDF only after every name has been added.
type Registry struct {
	tokenizer *Tokenizer
	dicts     *dict.Dictionaries
	tokens    map[Key]*Token
	langs     map[string]bool
}

// NewRegistry returns an empty token registry.
func NewRegistry(tokenizer *Tokenizer, dicts *dict.Dictionaries) *Registry {
	return &Registry{
		tokenizer: tokenizer,
		dicts:     dicts,
		tokens:    map[Key]*Token{},
		langs:     map[string]bool{},
	}
}

// Add tokenizes the name and counts one occurrence of every token under the
// given class. Tokens found in the language's street-type dictionary are
// keyed by language so abbreviation classes stay distinct per language.
func (r *Registry) Add(name string, class model.Class, lang string) {
	var abbrevs map[string][]string
	if lang != "" {
		abbrevs = r.dicts.StreetTypes(lang)
		r.langs[lang] = true
	}
	for _, word := range r.tokenizer.Tokenize(name) {
		key := Key{Name: word}
		if lang != "" {
			if _, ok := abbrevs[word]; ok {
				key.Lang = lang
			}
		}
		tok, ok := r.tokens[key]
		if !ok {
			tok = &Token{ID: int64(len(r.tokens) + 1), Name: word, Lang: key.Lang}
			r.tokens[key] = tok
		}
		tok.TypeMask |= class.Bit()
		tok.Count++
	}
}

// Lookup resolves a token by text, preferring a language-qualified entry.
func (r *Registry) Lookup(name, lang string) (*Token, bool) {
	if lang != "" {
		if tok, ok := r.tokens[Key{Name: name, Lang: lang}]; ok {
			return tok, true
		}
	}
	tok, ok := r.tokens[Key{Name: name}]
	return tok, ok
}

// Len returns the number of distinct tokens.
func (r *Registry) Len() int {
	return len(r.tokens)
}

// ComputeIDF assigns every token ln(total/count) normalized by the corpus
// mean, so the average weight is 1.0.
func (r *Registry) ComputeIDF() {
	if len(r.tokens) == 0 {
		return
	}
	var total int64
	for _, tok := range r.tokens {
		total += tok.Count
	}
	var sum float64
	for _, tok := range r.tokens {
		tok.IDF = math.Log(float64(total) / float64(tok.Count))
		sum += tok.IDF
	}
	mean := sum / float64(len(r.tokens))
	if mean == 0 {
		return
	}
	for _, tok := range r.tokens {
		tok.IDF /= mean
	}
}

// All returns the tokens in id order.
func (r *Registry) All() []*Token {
	out := make([]*Token, 0, len(r.tokens))
	for _, tok := range r.tokens {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Aliases returns the extra abbreviation rows of a token: for every
// language seen during the run, each street-type alias of the token's text
// maps back to the token's id.
func (r *Registry) Aliases(tok *Token) []AliasRow {
	var rows []AliasRow
	langs := make([]string, 0, len(r.langs))
	for lang := range r.langs {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		for _, alias := range r.dicts.StreetTypes(lang)[tok.Name] {
			rows = append(rows, AliasRow{ID: tok.ID, Alias: alias, Lang: lang})
		}
	}
	return rows
}
