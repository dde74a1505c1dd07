package generator

import (
	"errors"
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict = bluemonday.StrictPolicy()

	errEmptyText = errors.New("generator returned empty text")
)

// Clean strips markup from model output, collapses whitespace and truncates
// to limit runes, preferring a word boundary.
func Clean(text string, limit int) string {
	text = html.UnescapeString(strict.Sanitize(text))
	text = strings.Join(strings.Fields(text), " ")
	text = strings.Trim(text, `"`)
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := runes[:limit]
	for i := len(cut) - 1; i > limit/2; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) && r != '?' && r != '!' && r != '.'
	})
}

func finish(c Content, limit int) (Content, error) {
	c.Text = Clean(c.Text, limit)
	if c.Text == "" {
		return Content{}, errEmptyText
	}
	alts := c.Alternatives[:0]
	for _, a := range c.Alternatives {
		if a = Clean(a, limit); a != "" && a != c.Text {
			alts = append(alts, a)
		}
	}
	c.Alternatives = alts
	c.Confidence = clamp(c.Confidence)
	return c, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
