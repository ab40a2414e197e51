package engine

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

// stemTokens lower-cases text, splits it on anything that is not a letter or
// digit and reduces each token with the Snowball English stemmer.
func stemTokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		words[i] = english.Stem(w, false)
	}
	return words
}

// phrase is a keyword in stemmed form. It matches a token stream when its
// tokens occur there contiguously.
type phrase struct {
	raw    string
	tokens []string
}

func compilePhrase(s string) phrase {
	return phrase{raw: strings.ToLower(strings.TrimSpace(s)), tokens: stemTokens(s)}
}

func compilePhrases(list []string) []phrase {
	out := make([]phrase, 0, len(list))
	for _, s := range list {
		p := compilePhrase(s)
		if len(p.tokens) > 0 {
			out = append(out, p)
		}
	}
	return out
}

func (p phrase) in(tokens []string) bool {
	n := len(p.tokens)
	if n == 0 || n > len(tokens) {
		return false
	}
outer:
	for i := 0; i+n <= len(tokens); i++ {
		for j := 0; j < n; j++ {
			if tokens[i+j] != p.tokens[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

// document is the per-analysis view of the clause list, tokenised once and
// shared read-only by every layer.
type document struct {
	clauses []Clause
	tokens  [][]string
}

func newDocument(clauses []Clause) *document {
	d := &document{clauses: clauses, tokens: make([][]string, len(clauses))}
	for i, c := range clauses {
		d.tokens[i] = stemTokens(c.Text)
	}
	return d
}

func (d *document) len() int { return len(d.clauses) }

// sectionMatches reports whether a clause labelled label belongs to the
// section of the control with the given id and title.
func sectionMatches(label, id, title string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return false
	}
	id = strings.ToLower(id)
	if label == id || strings.HasPrefix(label, id+".") || strings.HasPrefix(label, id+" ") {
		return true
	}
	title = strings.ToLower(strings.TrimSpace(title))
	return title != "" && strings.Contains(label, title)
}
