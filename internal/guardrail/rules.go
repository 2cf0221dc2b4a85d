package guardrail

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/store"
)

// Rejection reasons.
const (
	ReasonDuplicateTitle = "duplicate_title"
	ReasonTitleTooShort  = "title_too_short"
	ReasonTooVague       = "task_too_vague"
	RiskyPrefix          = "risky_keyword"
	VaguePrefix          = "vague_keyword"
)

var nonAlnum = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Normalize lowercases s and collapses every run of non-alphanumeric
// characters into a single space.
func Normalize(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

// Candidate is a suggested task as the rules see it.
type Candidate struct {
	Task  store.Task
	Title string // normalized title
	Text  string // normalized title and description
	Words int    // whitespace-separated words of title and description

	// Duplicate is set when the normalized title is already on the blocklist.
	Duplicate bool
}

// Rule inspects a candidate and returns a rejection reason, or "" to pass.
type Rule func(c Candidate) string

// DuplicateTitle rejects titles already present in the actionable queue.
func DuplicateTitle() Rule {
	return func(c Candidate) string {
		if c.Duplicate {
			return ReasonDuplicateTitle
		}
		return ""
	}
}

// MinTitleLength rejects titles shorter than n characters.
func MinTitleLength(n int) Rule {
	return func(c Candidate) string {
		if utf8.RuneCountInString(strings.TrimSpace(c.Task.Title)) < n {
			return ReasonTitleTooShort
		}
		return ""
	}
}

// MinWords rejects tasks whose title and description have fewer than n words.
func MinWords(n int) Rule {
	return func(c Candidate) string {
		if c.Words < n {
			return ReasonTooVague
		}
		return ""
	}
}

// Keywords rejects text containing any of the keywords. A keyword matches a
// word of the text in its base form or a regular inflection of it (plural,
// past tense, gerund, agent noun), so "delete" catches "Deleted" and
// "deleting" but "prod" does not catch "product". Words of a phrase must
// appear in order, with at most determiners between them: "drop table"
// catches "dropping the tables". The first keyword in list order that
// matches names the reason, as "<prefix>:<keyword>".
func Keywords(prefix string, keywords []string) Rule {
	type kw struct {
		raw   string
		words []string
	}
	list := make([]kw, 0, len(keywords))
	for _, k := range keywords {
		if n := Normalize(k); n != "" {
			list = append(list, kw{raw: strings.ToLower(strings.TrimSpace(k)), words: strings.Fields(n)})
		}
	}
	return func(c Candidate) string {
		text := strings.Fields(c.Text)
		for _, k := range list {
			if containsPhrase(text, k.words) {
				return prefix + ":" + k.raw
			}
		}
		return ""
	}
}

var determiners = map[string]bool{
	"the": true, "a": true, "an": true, "all": true, "any": true, "every": true, "some": true,
	"my": true, "our": true, "your": true, "their": true, "its": true,
	"this": true, "that": true, "these": true, "those": true,
}

func containsPhrase(text, phrase []string) bool {
	for i := range text {
		if !inflects(text[i], phrase[0]) {
			continue
		}
		j, ok := i+1, true
		for _, want := range phrase[1:] {
			for j < len(text) && determiners[text[j]] && !inflects(text[j], want) {
				j++
			}
			if j >= len(text) || !inflects(text[j], want) {
				ok = false
				break
			}
			j++
		}
		if ok {
			return true
		}
	}
	return false
}

var (
	suffixes   = []string{"s", "es", "ed", "d", "ing", "er", "ers", "ment", "ments", "ion", "ions", "al"}
	eSuffixes  = []string{"ing", "ed", "er", "ers", "ion", "ions"}
	dbSuffixes = []string{"ing", "ed", "er", "ers"}
)

// inflects reports whether word is base or one of its regular inflections.
func inflects(word, base string) bool {
	if word == base {
		return true
	}
	if !strings.HasPrefix(word, base[:len(base)-1]) {
		return false
	}
	for _, suf := range suffixes {
		if word == base+suf {
			return true
		}
	}
	last := base[len(base)-1]
	if last == 'e' {
		stem := base[:len(base)-1]
		for _, suf := range eSuffixes {
			if word == stem+suf {
				return true
			}
		}
	}
	if len(base) >= 3 && !isVowel(last) && isVowel(base[len(base)-2]) && !isVowel(base[len(base)-3]) {
		for _, suf := range dbSuffixes {
			if word == base+string(last)+suf {
				return true
			}
		}
	}
	return false
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// DefaultRules returns the admission rules in evaluation order.
func DefaultRules(cfg config.GuardrailConfig) []Rule {
	minTitle := cfg.MinTitleLength
	if minTitle <= 0 {
		minTitle = 6
	}
	minWords := cfg.MinWords
	if minWords <= 0 {
		minWords = 3
	}
	return []Rule{
		DuplicateTitle(),
		MinTitleLength(minTitle),
		MinWords(minWords),
		Keywords(RiskyPrefix, cfg.RiskyKeywords),
		Keywords(VaguePrefix, cfg.VagueKeywords),
	}
}
