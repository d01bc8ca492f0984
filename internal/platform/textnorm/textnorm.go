// Package textnorm folds text for accent-insensitive search.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// đ/Đ are standalone letters, not a base letter plus a combining mark.
var dReplacer = strings.NewReplacer("đ", "d", "Đ", "D")

// Unsign strips diacritics, lowercases and trims s.
func Unsign(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = dReplacer.Replace(out)
	return strings.TrimSpace(strings.ToLower(out))
}

// SearchText builds the normalized search column for a book.
func SearchText(title, code, description string, authors ...string) string {
	parts := make([]string, 0, 3+len(authors))
	for _, p := range append([]string{title, code, description}, authors...) {
		if p = Unsign(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Terms splits a query into unsigned search terms.
func Terms(q string) []string {
	return strings.Fields(Unsign(q))
}
