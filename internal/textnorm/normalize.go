// Package textnorm cleans up transcripts and scores them against references.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

type runeRange struct {
	lo, hi rune
}

var (
	devanagari = runeRange{0x0900, 0x097F}
	bengali    = runeRange{0x0980, 0x09FF}
)

// scriptRanges maps a language code to the Unicode block of its script.
// Languages without an entry fall back to Devanagari.
var scriptRanges = map[string]runeRange{
	"hi": devanagari,
	"mr": devanagari,
	"bn": bengali,
	"as": bengali,
	"ta": {0x0B80, 0x0BFF},
	"te": {0x0C00, 0x0C7F},
	"gu": {0x0A80, 0x0AFF},
	"kn": {0x0C80, 0x0CFF},
	"ml": {0x0D00, 0x0D7F},
	"pa": {0x0A00, 0x0A7F},
	"or": {0x0B00, 0x0B7F},
}

// Normalize keeps only characters of the language's script plus whitespace,
// then collapses runs of whitespace into single spaces.
func Normalize(text, lang string) string {
	r, ok := scriptRanges[lang]
	if !ok {
		r = devanagari
	}

	text = strings.ToLower(norm.NFC.String(text))
	text = strings.Map(func(c rune) rune {
		if unicode.IsSpace(c) || (c >= r.lo && c <= r.hi) {
			return c
		}
		return -1
	}, text)

	return strings.Join(strings.Fields(text), " ")
}
