package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"unfurlbot/pkg/logger"
)

type OutcomeKind int

const (
	// OutcomeUnmatched ends a scan: no entry matched the remaining text.
	OutcomeUnmatched OutcomeKind = iota
	// OutcomeEmpty is a match that produced nothing, including extractor faults.
	OutcomeEmpty
	// OutcomeValue is a match that produced reply text.
	OutcomeValue
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeValue:
		return "value"
	case OutcomeEmpty:
		return "empty"
	default:
		return "unmatched"
	}
}

// Outcome records one iteration of a scan.
type Outcome struct {
	Kind  OutcomeKind
	Entry string
	Span  string
	Value string
	Err   error
}

// ExtractorFault is an extractor failure contained by the scanner.
type ExtractorFault struct {
	Entry string
	Span  string
	Err   error
}

func (f *ExtractorFault) Error() string {
	return fmt.Sprintf("extractor %s failed on %q: %v", f.Entry, f.Span, f.Err)
}

func (f *ExtractorFault) Unwrap() error {
	return f.Err
}

// Observer is told about every extraction attempt. Metrics hook in here.
type Observer interface {
	ObserveOutcome(o Outcome)
}

// Scanner consumes text left to right through a Registry.
type Scanner struct {
	registry *Registry
	observer Observer
	log      *slog.Logger
}

// NewScanner seals registry and returns a scanner over it. observer may be nil.
func NewScanner(registry *Registry, observer Observer, log *slog.Logger) *Scanner {
	if registry == nil {
		registry = NewRegistry()
	}
	registry.Seal()

	return &Scanner{
		registry: registry,
		observer: observer,
		log:      logger.Component(log, "dispatch.scanner"),
	}
}

// Scan returns the non-empty extraction results for text in discovery order.
func (s *Scanner) Scan(ctx context.Context, text string) []string {
	var results []string
	for _, outcome := range s.ScanOutcomes(ctx, text) {
		if outcome.Kind == OutcomeValue {
			results = append(results, outcome.Value)
		}
	}
	return results
}

// ScanOutcomes returns every iteration's outcome. The last element is
// OutcomeUnmatched unless the text was consumed exactly.
func (s *Scanner) ScanOutcomes(ctx context.Context, text string) []Outcome {
	var outcomes []Outcome
	for text != "" {
		hit, ok := s.registry.FirstMatch(text)
		if !ok {
			outcome := Outcome{Kind: OutcomeUnmatched}
			s.observe(outcome)
			outcomes = append(outcomes, outcome)
			break
		}

		outcome := s.extract(ctx, hit)
		if outcome.Err != nil {
			s.log.Warn("Extractor failed",
				logger.KeyEntry, outcome.Entry,
				"span", outcome.Span,
				logger.KeyText, logger.Preview(text, logger.PreviewLimit),
				logger.KeyError, outcome.Err,
			)
		}
		s.observe(outcome)
		outcomes = append(outcomes, outcome)

		text = hit.Remainder
	}
	return outcomes
}

// extract runs one extractor, turning errors and panics into an empty outcome.
func (s *Scanner) extract(ctx context.Context, hit Hit) (outcome Outcome) {
	outcome = Outcome{Kind: OutcomeEmpty, Entry: hit.Entry.Name, Span: hit.Match.Span}

	defer func() {
		if r := recover(); r != nil {
			outcome.Kind = OutcomeEmpty
			outcome.Value = ""
			outcome.Err = &ExtractorFault{
				Entry: hit.Entry.Name,
				Span:  hit.Match.Span,
				Err:   fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	value, err := hit.Entry.Extractor.Extract(ctx, hit.Match)
	if err != nil {
		outcome.Err = &ExtractorFault{Entry: hit.Entry.Name, Span: hit.Match.Span, Err: err}
		return outcome
	}

	if value == "" {
		return outcome
	}

	outcome.Kind = OutcomeValue
	outcome.Value = value
	return outcome
}

func (s *Scanner) observe(o Outcome) {
	if s.observer != nil {
		s.observer.ObserveOutcome(o)
	}
}
