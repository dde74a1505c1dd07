package scoring

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var fold = cases.Fold()

// Normalize case-folds s for keyword matching.
func Normalize(s string) string {
	return fold.String(s)
}

// ContainsTerm reports whether the already-normalized text contains term as a
// whole word or phrase. term is normalized here.
func ContainsTerm(text, term string) bool {
	term = strings.TrimSpace(Normalize(term))
	if term == "" {
		return false
	}
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
	}
	return false
}

// FirstTerm returns the first of terms found in the normalized text.
func FirstTerm(text string, terms []string) (string, bool) {
	for _, t := range terms {
		if ContainsTerm(text, t) {
			return t, true
		}
	}
	return "", false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Haystack is text prepared for substring matching. Unlike ContainsTerm it
// matches inside longer words and ignores punctuation between letters, so
// "crypto" is found in "cryptocurrency" and "layoffs" in "lay-offs".
type Haystack struct {
	folded   string
	squashed string
}

// NewHaystack case-folds text for Contains.
func NewHaystack(text string) Haystack {
	folded := Normalize(text)
	return Haystack{folded: folded, squashed: squash(folded)}
}

// Contains reports whether term occurs anywhere in the text.
func (h Haystack) Contains(term string) bool {
	term = strings.TrimSpace(Normalize(term))
	if term == "" {
		return false
	}
	if strings.Contains(h.folded, term) {
		return true
	}
	sq := strings.TrimSpace(squash(term))
	return sq != "" && strings.Contains(h.squashed, sq)
}

// First returns the first of terms the text contains.
func (h Haystack) First(terms []string) (string, bool) {
	for _, t := range terms {
		if h.Contains(t) {
			return t, true
		}
	}
	return "", false
}

// squash drops punctuation and symbols, keeping letters, digits and spaces.
func squash(s string) string {
	return strings.Map(func(r rune) rune {
		if isWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}
