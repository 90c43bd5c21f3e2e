// Package dispatch classifies chat text against an ordered table of patterns
// and routes every recognised span to its extractor.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

var ErrRegistrySealed = errors.New("registry is sealed")

// Match is one recognised span. Groups[0] is the whole span, followed by the
// pattern's capture groups; unmatched optional groups are empty strings.
type Match struct {
	Entry  string
	Span   string
	Groups []string
}

// Group returns capture group i, or "" when the pattern has no such group.
func (m Match) Group(i int) string {
	if i < 0 || i >= len(m.Groups) {
		return ""
	}
	return m.Groups[i]
}

// Extractor turns a matched span into reply text. An empty string means the
// span was recognised but there is nothing to say.
type Extractor interface {
	Extract(ctx context.Context, m Match) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, m Match) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, m Match) (string, error) {
	return f(ctx, m)
}

// Entry binds a matcher to its extractor.
type Entry struct {
	Name      string
	Matcher   *regexp.Regexp
	Extractor Extractor
}

// Hit is the result of FirstMatch.
type Hit struct {
	Entry     Entry
	Match     Match
	Remainder string
}

// Registry is an ordered list of entries. Registration order is priority:
// FirstMatch returns the earliest registered entry that matches anywhere in
// the text, even when a later entry matches closer to the start.
type Registry struct {
	entries []Entry
	sealed  atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends an entry behind all existing ones.
func (r *Registry) Register(name string, matcher *regexp.Regexp, extractor Extractor) error {
	if r.sealed.Load() {
		return ErrRegistrySealed
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("entry name is required")
	}
	if matcher == nil {
		return fmt.Errorf("entry %s: matcher is required", name)
	}
	if extractor == nil {
		return fmt.Errorf("entry %s: extractor is required", name)
	}
	for _, existing := range r.entries {
		if existing.Name == name {
			return fmt.Errorf("entry %s: already registered", name)
		}
	}

	r.entries = append(r.entries, Entry{Name: name, Matcher: matcher, Extractor: extractor})
	return nil
}

// MustRegister compiles pattern and registers it, panicking on error. It is
// meant for the static table built at startup.
func (r *Registry) MustRegister(name string, pattern string, extractor Extractor) {
	if err := r.Register(name, regexp.MustCompile(pattern), extractor); err != nil {
		panic(err)
	}
}

// Seal freezes the entry order. Scanners seal the registry they are built on.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Names lists entry names in priority order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		names = append(names, entry.Name)
	}
	return names
}

// FirstMatch finds the first registered entry matching anywhere in text.
// Text before the match is dropped; Remainder is everything after it.
// A zero-length match does not count, so Remainder is always shorter than text.
func (r *Registry) FirstMatch(text string) (Hit, bool) {
	for _, entry := range r.entries {
		loc := entry.Matcher.FindStringSubmatchIndex(text)
		if loc == nil || loc[1] <= loc[0] {
			continue
		}

		groups := make([]string, len(loc)/2)
		for i := range groups {
			start, end := loc[2*i], loc[2*i+1]
			if start >= 0 && end >= 0 {
				groups[i] = text[start:end]
			}
		}

		return Hit{
			Entry: entry,
			Match: Match{
				Entry:  entry.Name,
				Span:   groups[0],
				Groups: groups,
			},
			Remainder: text[loc[1]:],
		}, true
	}

	return Hit{}, false
}
