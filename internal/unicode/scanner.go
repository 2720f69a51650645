// Package unicode cleans text taken from page elements before it is
// matched against checkout vocabulary. Pages sometimes pad button captions
// with invisible runes or swap Latin letters for look-alikes.
package unicode

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Finding is a single suspicious rune found in element text.
type Finding struct {
	Category  string // "zero-width", "bidi", "tag-char", "control-char", "homoglyph", "invalid-utf8"
	Position  int    // byte offset in the input
	Codepoint string // e.g. "U+200B"
}

// Scan lists every invisible or look-alike rune in s.
func Scan(s string) []Finding {
	var findings []Finding
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			findings = append(findings, Finding{Category: "invalid-utf8", Position: i, Codepoint: fmt.Sprintf("0x%02X", s[i])})
			i++
			continue
		}
		if cat := classify(r); cat != "" {
			findings = append(findings, Finding{Category: cat, Position: i, Codepoint: fmt.Sprintf("U+%04X", r)})
		}
		i += size
	}
	return findings
}

// Strip removes invisible runes. Invalid bytes are dropped too.
func Strip(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r == utf8.RuneError && size == 1 {
			continue
		}
		switch classify(r) {
		case "zero-width", "bidi", "tag-char":
			continue
		case "control-char":
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Fold replaces Cyrillic and Greek look-alikes with the Latin letter they
// imitate.
func Fold(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { _, ok := homoglyphs[r]; return ok }) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if latin, ok := homoglyphs[r]; ok {
			b.WriteRune(latin)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func classify(r rune) string {
	switch {
	case isZeroWidth(r):
		return "zero-width"
	case isBidi(r):
		return "bidi"
	case r >= 0xE0001 && r <= 0xE007F:
		return "tag-char"
	case isUnsafeControl(r):
		return "control-char"
	}
	if _, ok := homoglyphs[r]; ok {
		return "homoglyph"
	}
	return ""
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\ufeff', '\u2060', '\u180e', '\u200e', '\u200f', '\u00ad':
		return true
	}
	return false
}

func isBidi(r rune) bool {
	return (r >= '\u202a' && r <= '\u202e') || (r >= '\u2066' && r <= '\u2069')
}

// isUnsafeControl treats tab, newline and carriage return as ordinary
// whitespace.
func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

var homoglyphs = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x', 'і': 'i',
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O', 'Р': 'P',
	'С': 'C', 'Т': 'T', 'Х': 'X', 'У': 'Y',
	// Greek
	'ο': 'o', 'α': 'a', 'ν': 'v', 'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Η': 'H', 'Ι': 'I',
	'Κ': 'K', 'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Χ': 'X', 'Υ': 'Y',
}
