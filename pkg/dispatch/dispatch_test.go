package dispatch

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"unfurlbot/pkg/logger"
)

func echo(prefix string) Extractor {
	return ExtractorFunc(func(_ context.Context, m Match) (string, error) {
		return prefix + m.Span, nil
	})
}

func groupEcho(i int) Extractor {
	return ExtractorFunc(func(_ context.Context, m Match) (string, error) {
		return m.Group(i), nil
	})
}

func newTestScanner(t *testing.T, register func(r *Registry)) *Scanner {
	t.Helper()
	r := NewRegistry()
	register(r)
	return NewScanner(r, nil, logger.Discard())
}

func TestFirstMatchPrefersRegistrationOrderOverPosition(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("late-in-text", `zzz`, echo("p1:"))
	r.MustRegister("early-in-text", `aaa`, echo("p2:"))

	hit, ok := r.FirstMatch("aaa then zzz")
	if !ok {
		t.Fatal("expected a match")
	}
	if hit.Entry.Name != "late-in-text" {
		t.Fatalf("entry = %q, want %q", hit.Entry.Name, "late-in-text")
	}
	if hit.Match.Span != "zzz" {
		t.Fatalf("span = %q, want %q", hit.Match.Span, "zzz")
	}
	if hit.Remainder != "" {
		t.Fatalf("remainder = %q, want empty", hit.Remainder)
	}
}

func TestFirstMatchGenericShadowsSpecificWhenRegisteredFirst(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("any-url", `https?://\S+`, echo("generic:"))
	r.MustRegister("gyazo", `https?://gyazo\.com/(\w+)`, groupEcho(1))

	hit, ok := r.FirstMatch("see https://gyazo.com/abc123")
	if !ok {
		t.Fatal("expected a match")
	}
	if hit.Entry.Name != "any-url" {
		t.Fatalf("entry = %q, want any-url", hit.Entry.Name)
	}
}

func TestFirstMatchCapturesGroupsAndRemainder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("droplr", `https?://d\.pr/i/(\w+)(x)?`, groupEcho(1))

	hit, ok := r.FirstMatch("junk http://d.pr/i/AbC tail")
	if !ok {
		t.Fatal("expected a match")
	}
	if got := hit.Match.Groups; len(got) != 3 || got[1] != "AbC" || got[2] != "" {
		t.Fatalf("groups = %q, want [span AbC \"\"]", got)
	}
	if hit.Remainder != " tail" {
		t.Fatalf("remainder = %q, want %q", hit.Remainder, " tail")
	}
	if hit.Match.Group(9) != "" {
		t.Fatal("expected out-of-range group to be empty")
	}
}

func TestFirstMatchIgnoresZeroLengthMatches(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("empty", `x*`, echo("empty:"))
	r.MustRegister("word", `\w+`, echo("word:"))

	hit, ok := r.FirstMatch("abc")
	if !ok {
		t.Fatal("expected a match")
	}
	if hit.Entry.Name != "word" {
		t.Fatalf("entry = %q, want word", hit.Entry.Name)
	}
}

func TestFirstMatchNoEntries(t *testing.T) {
	if _, ok := NewRegistry().FirstMatch("anything"); ok {
		t.Fatal("expected no match on empty registry")
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", regexp.MustCompile(`a`), echo("")); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := r.Register("nil-matcher", nil, echo("")); err == nil {
		t.Fatal("expected error for nil matcher")
	}
	if err := r.Register("nil-extractor", regexp.MustCompile(`a`), nil); err == nil {
		t.Fatal("expected error for nil extractor")
	}
	if err := r.Register("dup", regexp.MustCompile(`a`), echo("")); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register("dup", regexp.MustCompile(`b`), echo("")); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestScannerSealsRegistry(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("a", `a`, echo(""))
	_ = NewScanner(r, nil, logger.Discard())

	err := r.Register("b", regexp.MustCompile(`b`), echo(""))
	if !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("error = %v, want %v", err, ErrRegistrySealed)
	}
	if got := r.Names(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Names = %v, want [a]", got)
	}
}

func TestScanDiscardsLeadingJunk(t *testing.T) {
	s := newTestScanner(t, func(r *Registry) {
		r.MustRegister("url", `https?://\S+`, echo("title of "))
	})

	got := s.Scan(context.Background(), "garbage http://example.com/x")
	if len(got) != 1 || got[0] != "title of http://example.com/x" {
		t.Fatalf("Scan = %q, want one result for the URL", got)
	}
}

func TestScanYieldsMultipleResultsInDiscoveryOrder(t *testing.T) {
	s := newTestScanner(t, func(r *Registry) {
		r.MustRegister("url", `https?://\S+`, echo(""))
	})

	got := s.Scan(context.Background(), "a http://one b http://two c http://three")
	want := []string{"http://one", "http://two", "http://three"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Scan = %q, want %q", got, want)
	}
}

func TestScanRegistrationOrderSkipsEarlierSpans(t *testing.T) {
	s := newTestScanner(t, func(r *Registry) {
		r.MustRegister("b", `B\d`, echo(""))
		r.MustRegister("a", `A\d`, echo(""))
	})

	// B2 wins first and everything before it (A1) is discarded; the
	// remainder " A3" is then scanned and A3 matches.
	got := s.Scan(context.Background(), "A1 B2 A3")
	if strings.Join(got, ",") != "B2,A3" {
		t.Fatalf("Scan = %q, want [B2 A3]", got)
	}
}

func TestScanFaultIsolation(t *testing.T) {
	s := newTestScanner(t, func(r *Registry) {
		r.MustRegister("broken", `broken://\S+`, ExtractorFunc(func(context.Context, Match) (string, error) {
			return "", errors.New("upstream timeout")
		}))
		r.MustRegister("url", `https?://\S+`, echo("ok:"))
	})

	outcomes := s.ScanOutcomes(context.Background(), "broken://x http://fine")
	if len(outcomes) != 2 {
		t.Fatalf("len(outcomes) = %d, want 2", len(outcomes))
	}

	// broken is registered first, so it is tried first against the whole text.
	if outcomes[0].Kind != OutcomeEmpty || outcomes[0].Entry != "broken" {
		t.Fatalf("outcome[0] = %+v, want empty from broken", outcomes[0])
	}
	var fault *ExtractorFault
	if !errors.As(outcomes[0].Err, &fault) || fault.Entry != "broken" {
		t.Fatalf("outcome[0].Err = %v, want ExtractorFault for broken", outcomes[0].Err)
	}
	if outcomes[1].Kind != OutcomeValue || outcomes[1].Value != "ok:http://fine" {
		t.Fatalf("outcome[1] = %+v, want value ok:http://fine", outcomes[1])
	}
}

func TestScanRecoversExtractorPanic(t *testing.T) {
	s := newTestScanner(t, func(r *Registry) {
		r.MustRegister("panics", `boom`, ExtractorFunc(func(context.Context, Match) (string, error) {
			panic("nil selection")
		}))
		r.MustRegister("word", `ok`, echo(""))
	})

	got := s.Scan(context.Background(), "boom ok")
	if len(got) != 1 || got[0] != "ok" {
		t.Fatalf("Scan = %q, want [ok]", got)
	}
}

func TestScanEmptyResultsAreSuppressed(t *testing.T) {
	s := newTestScanner(t, func(r *Registry) {
		r.MustRegister("quiet", `q`, ExtractorFunc(func(context.Context, Match) (string, error) {
			return "", nil
		}))
	})

	if got := s.Scan(context.Background(), "q q q"); len(got) != 0 {
		t.Fatalf("Scan = %q, want no results", got)
	}
}

func TestScanKeepsWhitespaceValues(t *testing.T) {
	s := newTestScanner(t, func(r *Registry) {
		r.MustRegister("blank", `b`, ExtractorFunc(func(context.Context, Match) (string, error) {
			return "  ", nil
		}))
	})

	outcomes := s.ScanOutcomes(context.Background(), "b")
	if len(outcomes) != 1 || outcomes[0].Kind != OutcomeValue || outcomes[0].Value != "  " {
		t.Fatalf("ScanOutcomes = %+v, want one whitespace value", outcomes)
	}
}

func TestScanOutcomesEndWithUnmatched(t *testing.T) {
	s := newTestScanner(t, func(r *Registry) {
		r.MustRegister("digit", `\d`, echo(""))
	})

	outcomes := s.ScanOutcomes(context.Background(), "1 2 trailing")
	last := outcomes[len(outcomes)-1]
	if last.Kind != OutcomeUnmatched {
		t.Fatalf("last outcome = %v, want unmatched", last.Kind)
	}

	if got := s.ScanOutcomes(context.Background(), ""); len(got) != 0 {
		t.Fatalf("ScanOutcomes(\"\") = %v, want none", got)
	}
}

func TestScanTerminatesOnAdversarialInput(t *testing.T) {
	s := newTestScanner(t, func(r *Registry) {
		r.MustRegister("lookahead-ish", `a*b?`, echo(""))
		r.MustRegister("any", `.`, echo(""))
	})

	text := strings.Repeat("ab\n", 200) + "ü"
	outcomes := s.ScanOutcomes(context.Background(), text)
	if len(outcomes) > len(text)+1 {
		t.Fatalf("scan took %d iterations for %d bytes", len(outcomes), len(text))
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []OutcomeKind
}

func (o *recordingObserver) ObserveOutcome(outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, outcome.Kind)
}

func TestScannerReportsOutcomesToObserver(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("x", `x`, echo(""))
	obs := &recordingObserver{}
	s := NewScanner(r, obs, logger.Discard())

	s.Scan(context.Background(), "x y")

	if len(obs.kinds) != 2 || obs.kinds[0] != OutcomeValue || obs.kinds[1] != OutcomeUnmatched {
		t.Fatalf("observed = %v, want [value unmatched]", obs.kinds)
	}
}
