// Package emoji rewrites Unicode emoji in reply text as bracketed aliases,
// e.g. "🍣" becomes "[:sushi:]", for rooms that render emoji poorly.
package emoji

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	gemoji "github.com/kenshaw/emoji"
)

const variationSelector = "\uFE0F"

// Normalizer replaces known emoji sequences with "[:alias:]".
type Normalizer struct {
	pattern *regexp.Regexp
	aliases map[string]string
}

var defaultNormalizer = sync.OnceValue(func() *Normalizer {
	table := make(map[string]string)
	for _, e := range gemoji.Gemoji() {
		if e.Emoji == "" || len(e.Aliases) == 0 {
			continue
		}
		table[e.Emoji] = e.Aliases[0]
	}
	return NewNormalizer(table)
})

// Normalize rewrites text with the gemoji table.
func Normalize(text string) string {
	return defaultNormalizer().Normalize(text)
}

// NewNormalizer builds a normalizer from emoji sequence to alias. Sequences
// are also matched without their U+FE0F variation selectors.
func NewNormalizer(table map[string]string) *Normalizer {
	aliases := make(map[string]string, len(table)*2)
	for seq, alias := range table {
		alias = strings.Trim(strings.TrimSpace(alias), ":")
		if seq == "" || alias == "" {
			continue
		}
		aliases[seq] = alias

		bare := strings.ReplaceAll(seq, variationSelector, "")
		if bare != seq && hasNonASCII(bare) {
			if _, exists := aliases[bare]; !exists {
				aliases[bare] = alias
			}
		}
	}

	if len(aliases) == 0 {
		return &Normalizer{aliases: aliases}
	}

	seqs := make([]string, 0, len(aliases))
	for seq := range aliases {
		seqs = append(seqs, seq)
	}
	// RE2 alternation is leftmost-first, so longer sequences (ZWJ families,
	// skin tones, flags) must be tried before their prefixes.
	sort.Slice(seqs, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(seqs[i]), utf8.RuneCountInString(seqs[j])
		if li != lj {
			return li > lj
		}
		return seqs[i] < seqs[j]
	})

	quoted := make([]string, len(seqs))
	for i, seq := range seqs {
		quoted[i] = regexp.QuoteMeta(seq)
	}

	return &Normalizer{
		pattern: regexp.MustCompile(strings.Join(quoted, "|")),
		aliases: aliases,
	}
}

// Normalize returns text with every known emoji replaced. Text without
// emoji is returned unchanged.
func (n *Normalizer) Normalize(text string) string {
	if n == nil || n.pattern == nil || text == "" {
		return text
	}

	return n.pattern.ReplaceAllStringFunc(text, func(seq string) string {
		alias, ok := n.aliases[seq]
		if !ok {
			return seq
		}
		return "[:" + alias + ":]"
	})
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}
