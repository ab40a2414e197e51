package engine

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/user/policyguard/pkg/catalog"
)

// DefaultWeakIndicators are advisory phrases that mark a clause as weak.
var DefaultWeakIndicators = []string{
	"may", "might", "could", "should", "should consider", "as appropriate",
	"where possible", "if feasible", "efforts will be made",
}

// DefaultMinClauseWords is the word count below which the shipped
// configuration flags a clause as too short to be a specific requirement.
const DefaultMinClauseWords = 10

// RewriteRule replaces advisory wording with mandatory wording.
type RewriteRule struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// DefaultRewrites strengthens modal language. Longer phrases are applied first.
var DefaultRewrites = []RewriteRule{
	{From: "should", To: "shall"},
	{From: "may", To: "must"},
	{From: "could", To: "shall"},
	{From: "might", To: "must"},
	{From: "where possible", To: "as a mandatory requirement"},
	{From: "if feasible", To: "as a requirement"},
	{From: "efforts will be made", To: "the organization shall ensure"},
	{From: "should consider", To: "shall implement"},
}

// DefaultPillarKeywords is the CIA classification lexicon.
var DefaultPillarKeywords = map[catalog.Pillar][]string{
	catalog.Confidentiality: {
		"confidential", "privacy", "secret", "classified", "access control",
		"authentication", "authorization", "encryption", "data protection",
		"information disclosure", "need-to-know", "clearance", "sensitive",
		"personal data", "pii", "gdpr", "data privacy",
	},
	catalog.Integrity: {
		"integrity", "accuracy", "validity", "completeness", "consistency",
		"verification", "validation", "audit trail", "change control",
		"version control", "tampering", "modification", "alteration",
		"digital signature", "hash", "checksum", "quality", "correctness",
	},
	catalog.Availability: {
		"availability", "uptime", "accessible", "redundancy", "backup",
		"disaster recovery", "business continuity", "failover", "resilience",
		"recovery time", "rto", "rpo", "downtime", "service level",
		"performance", "reliability", "fault tolerance", "high availability",
	},
}

var pillarDescriptions = map[catalog.Pillar]string{
	catalog.Confidentiality: "ensuring that information is accessible only to authorized individuals",
	catalog.Integrity:       "maintaining accuracy and completeness of data",
	catalog.Availability:    "ensuring timely and reliable access to information and systems",
}

type rewrite struct {
	re *regexp.Regexp
	to string
}

// Lexicon holds the compiled word lists used for weak-language detection,
// clause rewriting and CIA classification. It is immutable after creation.
type Lexicon struct {
	weak     []phrase
	rewrites []rewrite
	pillars  map[catalog.Pillar][]phrase
	minWords int
}

// NewLexicon compiles the given lists. Nil or empty arguments fall back to
// the defaults, per list.
func NewLexicon(weak []string, rewrites []RewriteRule, pillars map[catalog.Pillar][]string) *Lexicon {
	if len(weak) == 0 {
		weak = DefaultWeakIndicators
	}
	if len(rewrites) == 0 {
		rewrites = DefaultRewrites
	}

	l := &Lexicon{
		weak:    compilePhrases(weak),
		pillars: make(map[catalog.Pillar][]phrase, len(catalog.Pillars)),
	}
	for _, p := range catalog.Pillars {
		words := pillars[p]
		if len(words) == 0 {
			words = DefaultPillarKeywords[p]
		}
		l.pillars[p] = compilePhrases(words)
	}

	ordered := append([]RewriteRule(nil), rewrites...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(strings.Fields(ordered[i].From)) > len(strings.Fields(ordered[j].From))
	})
	for _, r := range ordered {
		from := strings.TrimSpace(r.From)
		if from == "" {
			continue
		}
		l.rewrites = append(l.rewrites, rewrite{
			re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`),
			to: r.To,
		})
	}
	return l
}

// DefaultLexicon returns the builtin lexicon.
func DefaultLexicon() *Lexicon {
	return NewLexicon(nil, nil, nil)
}

// WithMinClauseWords returns a copy of l that flags clauses with fewer than
// n words as weak. n <= 0 disables the rule, which is the default.
func (l *Lexicon) WithMinClauseWords(n int) *Lexicon {
	cp := *l
	cp.minWords = max(n, 0)
	return &cp
}

// MinClauseWords returns the configured minimum clause length, 0 when off.
func (l *Lexicon) MinClauseWords() int { return l.minWords }

// tooShort reports whether text falls under the minimum clause length.
func (l *Lexicon) tooShort(text string) (int, bool) {
	n := len(strings.Fields(text))
	return n, l.minWords > 0 && n < l.minWords
}

// weakIndicator returns the first advisory phrase found in tokens.
func (l *Lexicon) weakIndicator(tokens []string) (string, bool) {
	for _, p := range l.weak {
		if p.in(tokens) {
			return p.raw, true
		}
	}
	return "", false
}

// pillarHits returns the pillars with at least one lexicon hit, in
// catalog.Pillars order.
func (l *Lexicon) pillarHits(tokens []string) []catalog.Pillar {
	var hits []catalog.Pillar
	for _, p := range catalog.Pillars {
		for _, kw := range l.pillars[p] {
			if kw.in(tokens) {
				hits = append(hits, p)
				break
			}
		}
	}
	return hits
}

// Rewrite strengthens advisory wording in text, keeping the capitalisation
// of the first letter of each replaced phrase, and terminates the sentence.
func (l *Lexicon) Rewrite(text string) string {
	out := strings.TrimSpace(text)
	for _, r := range l.rewrites {
		out = r.re.ReplaceAllStringFunc(out, func(m string) string {
			first, _ := utf8.DecodeRuneInString(m)
			if unicode.IsUpper(first) {
				return capitalize(r.to)
			}
			return r.to
		})
	}
	if out != "" && !strings.HasSuffix(out, ".") {
		out += "."
	}
	return out
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
