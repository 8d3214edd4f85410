package moderation

import (
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// DefaultBlockedWords is used when no word list is configured.
var DefaultBlockedWords = []string{
	"arsehole", "asshole", "bastard", "bitch", "bollocks", "bullshit",
	"crap", "damn", "dickhead", "fuck", "motherfucker", "shit", "wanker",
}

// Filter censors blocked words. It is stateless after construction and
// safe for concurrent use; the same input always yields the same output.
type Filter struct {
	matcher    *goahocorasick.Machine
	censorChar rune
}

// textMapping ties each normalized rune to a rune of the original text.
// offsets holds the byte offset of every original rune plus the length.
type textMapping struct {
	normalized []rune
	origIdx    []int
	runes      []rune
	offsets    []int
}

// NewFilter builds the automaton from a normalized copy of words.
func NewFilter(words []string, censorChar rune) (*Filter, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		if p := normalizeRunes([]rune(strings.TrimSpace(word))); len(p) > 0 {
			patterns = append(patterns, p)
		}
	}

	f := &Filter{censorChar: censorChar}
	if len(patterns) == 0 {
		return f, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	f.matcher = m
	return f, nil
}

// Clean replaces every blocked word standing on its own with the censor
// character, keeping the original length and spacing.
func (f *Filter) Clean(original string) string {
	if f == nil || f.matcher == nil {
		return original
	}

	mapping := normalize(original)
	if len(mapping.normalized) == 0 {
		return original
	}

	terms := f.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(terms) == 0 {
		return original
	}

	origRunes := mapping.runes
	censored := make([]bool, len(origRunes))
	for _, term := range terms {
		normStart := term.Pos
		normEnd := normStart + len(term.Word)
		if normStart < 0 || normEnd > len(mapping.origIdx) {
			continue
		}

		origStart := mapping.origIdx[normStart]
		origEnd := mapping.origIdx[normEnd-1] + 1
		if !isBoundary(origRunes, origStart-1) || !isBoundary(origRunes, origEnd) {
			continue
		}

		for i := origStart; i < origEnd; i++ {
			if !unicode.IsSpace(origRunes[i]) {
				censored[i] = true
			}
		}
	}

	// Untouched runes are copied byte for byte, invalid UTF-8 included.
	var b strings.Builder
	b.Grow(len(original))
	for i := range origRunes {
		if censored[i] {
			b.WriteRune(f.censorChar)
			continue
		}
		b.WriteString(original[mapping.offsets[i]:mapping.offsets[i+1]])
	}
	return b.String()
}

// isBoundary reports whether position i lies outside a word.
func isBoundary(runes []rune, i int) bool {
	if i < 0 || i >= len(runes) {
		return true
	}
	r := runes[i]
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func normalize(input string) textMapping {
	m := textMapping{
		normalized: make([]rune, 0, len(input)),
		origIdx:    make([]int, 0, len(input)),
		runes:      make([]rune, 0, len(input)),
		offsets:    make([]int, 0, len(input)+1),
	}

	for offset, r := range input {
		i := len(m.runes)
		m.runes = append(m.runes, r)
		m.offsets = append(m.offsets, offset)

		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		m.normalized = append(m.normalized, unicode.ToLower(clean))
		m.origIdx = append(m.origIdx, i)
	}
	m.offsets = append(m.offsets, len(input))
	return m
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps leet speak back to letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
