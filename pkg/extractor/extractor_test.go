package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"unfurlbot/pkg/config"
	"unfurlbot/pkg/dispatch"
	"unfurlbot/pkg/logger"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return NewFetcher(config.FetchConfig{TimeoutSeconds: 5}, nil)
}

func serveHTML(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func matchOf(groups ...string) dispatch.Match {
	return dispatch.Match{Span: groups[0], Groups: groups}
}

func TestEscapeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "http://example.com/path?q=1", want: "http://example.com/path?q=1"},
		{in: "http://example.com/wiki/日本", want: "http://example.com/wiki/%E6%97%A5%E6%9C%AC"},
		{in: "http://example.com/a[1]", want: "http://example.com/a%5B1%5D"},
		{in: "http://日本.jp/top", want: "http://xn--wgv71a.jp/top"},
		{in: "https://user@日本.jp:8443", want: "https://user@xn--wgv71a.jp:8443"},
	}

	for _, tt := range tests {
		got, err := EscapeURL(tt.in)
		if err != nil {
			t.Fatalf("EscapeURL(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("EscapeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := EscapeURL("not a url"); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}

func TestFetcherSendsBrowserHeaders(t *testing.T) {
	var gotUA, gotLang, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		gotReferer = r.Header.Get("Referer")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if _, err := newTestFetcher(t).Get(context.Background(), srv.URL, "http://ref.example/"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if gotUA != config.DefaultUserAgent {
		t.Fatalf("user agent = %q", gotUA)
	}
	if gotLang != config.DefaultAcceptLanguage {
		t.Fatalf("accept-language = %q", gotLang)
	}
	if gotReferer != "http://ref.example/" {
		t.Fatalf("referer = %q", gotReferer)
	}
}

func TestFetcherCapsBodyAndRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	fetcher := NewFetcher(config.FetchConfig{MaxBodyBytes: 10}, nil)

	page, err := fetcher.Get(context.Background(), srv.URL+"/big", "")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(page.Body) != 10 {
		t.Fatalf("body length = %d, want 10", len(page.Body))
	}

	_, err = fetcher.GetOK(context.Background(), srv.URL+"/missing")
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestFetcherSharesLimiterPerHost(t *testing.T) {
	fetcher := NewFetcher(config.FetchConfig{RequestsPerSecond: 1, Burst: 1}, nil)
	if fetcher.limiter("Example.COM") != fetcher.limiter("example.com") {
		t.Fatal("expected host limiter lookup to be case-insensitive")
	}
	if fetcher.limiter("a.example") == fetcher.limiter("b.example") {
		t.Fatal("expected separate limiters per host")
	}
}

func TestPageExtractorDescribesTitleAndImage(t *testing.T) {
	srv := serveHTML(t, map[string]string{
		"/article": `<html><head><title> Hello World </title>
<meta property="og:image" content="http://img.example/a.png"></head><body><p>hi</p></body></html>`,
		"/og": `<html><head><meta property="og:title" content="From OG"></head><body></body></html>`,
	})

	page := NewPageExtractor(newTestFetcher(t))

	got, err := page.Extract(context.Background(), matchOf(srv.URL+"/article", srv.URL+"/article"))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got != "Hello World\nhttp://img.example/a.png" {
		t.Fatalf("unexpected reply %q", got)
	}

	got, err = page.Describe(context.Background(), srv.URL+"/og")
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if got != "From OG" {
		t.Fatalf("expected og:title fallback, got %q", got)
	}
}

func TestPageExtractorPrependsEscapedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, "<html><head><title>%s</title></head></html>", r.URL.EscapedPath())
	}))
	defer srv.Close()

	got, err := NewTitleExtractor(newTestFetcher(t)).Describe(context.Background(), srv.URL+"/a[1]")
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	want := srv.URL + "/a%5B1%5D\n/a%5B1%5D"
	if got != want {
		t.Fatalf("Describe() = %q, want %q", got, want)
	}
}

func TestPageExtractorIgnoresNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG"))
	}))
	defer srv.Close()

	got, err := NewPageExtractor(newTestFetcher(t)).Describe(context.Background(), srv.URL+"/img.png")
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty reply for non-html, got %q", got)
	}
}

func TestStaticSiteRewrites(t *testing.T) {
	r := NewRegistry(newTestFetcher(t), nil, logger.Discard())
	tests := []struct {
		text  string
		entry string
		want  string
	}{
		{text: "http://d.pr/i/AbC1", entry: EntryDroplr, want: "http://d.pr/i/AbC1.png"},
		{text: "http://seiga.nicovideo.jp/seiga/im12345", entry: EntryNicoseigaImage, want: "http://lohas.nicoseiga.jp/thumb/12345i#.png"},
		{text: "http://ow.ly/i/xyz", entry: EntryOwly, want: "http://static.ow.ly/photos/normal/xyz.jpg"},
		{text: "http://a.c.yimg.jp/pic", entry: EntryYimg, want: "http://a.c.yimg.jp/pic#.jpg"},
		{text: "http://a.c.yimg.jp/pic.PNG", entry: EntryYimg, want: "http://a.c.yimg.jp/pic.PNG"},
		{text: "http://p.twipple.jp/k9Xz", entry: EntryTwipple, want: "http://p.twpl.jp/show/large/k9Xz#.jpg"},
		{text: "https://www.dropbox.com/s/abc/cat.jpg?dl=0", entry: EntryDropbox, want: "https://dl.dropboxusercontent.com/s/abc/cat.jpg"},
		{text: "http://i.imgur.com/Ab12.gifv", entry: EntryImgurGifv, want: "http://i.imgur.com/Ab12.gif"},
	}

	for _, tt := range tests {
		hit, ok := r.FirstMatch(tt.text)
		if !ok {
			t.Fatalf("no entry matched %q", tt.text)
		}
		if hit.Entry.Name != tt.entry {
			t.Fatalf("%q matched %s, want %s", tt.text, hit.Entry.Name, tt.entry)
		}
		got, err := hit.Entry.Extractor.Extract(context.Background(), hit.Match)
		if err != nil {
			t.Fatalf("%s extract error: %v", tt.entry, err)
		}
		if got != tt.want {
			t.Fatalf("%s = %q, want %q", tt.entry, got, tt.want)
		}
	}
}

func TestGreedyEntriesConsumeRestOfLine(t *testing.T) {
	r := NewRegistry(newTestFetcher(t), nil, logger.Discard())

	hit, ok := r.FirstMatch("http://a.c.yimg.jp/pic http://ow.ly/i/xyz\nhttp://ow.ly/i/next")
	if !ok || hit.Entry.Name != EntryYimg {
		t.Fatalf("expected yimg entry, got %+v", hit.Entry.Name)
	}
	if hit.Match.Span != "http://a.c.yimg.jp/pic http://ow.ly/i/xyz" {
		t.Fatalf("span = %q, want the rest of the line", hit.Match.Span)
	}
	if hit.Remainder != "\nhttp://ow.ly/i/next" {
		t.Fatalf("remainder = %q, want the following lines", hit.Remainder)
	}
}

func TestRegistryPriorityAndAnchors(t *testing.T) {
	r := NewRegistry(newTestFetcher(t), nil, logger.Discard())

	names := r.Names()
	if names[0] != EntryNicovideo || names[len(names)-1] != EntryPage {
		t.Fatalf("unexpected order %v", names)
	}

	// Droplr is anchored at the end of a line; mid-line links fall through.
	hit, ok := r.FirstMatch("http://d.pr/i/abc and more")
	if !ok || hit.Entry.Name != EntryPage {
		t.Fatalf("expected page entry for unanchored droplr link, got %+v", hit.Entry.Name)
	}
	hit, ok = r.FirstMatch("http://d.pr/i/abc\nnext line")
	if !ok || hit.Entry.Name != EntryDroplr {
		t.Fatalf("expected droplr at end of line, got %s", hit.Entry.Name)
	}
}

func TestNijie(t *testing.T) {
	srv := serveHTML(t, map[string]string{
		"/view.php": `<html><head><meta property="og:title" content="Sunset"></head>
<body><div class="image"><img class="mozamoza" src="//pic.nijie.net/__rs_l(300x300)/a.jpg"></div></body></html>`,
	})

	sites := NewSites(newTestFetcher(t))
	sites.NijieBase = srv.URL + "/view.php"

	got, err := sites.Nijie(context.Background(), matchOf("https://nijie.info/view.php?id=42", "42"))
	if err != nil {
		t.Fatalf("Nijie() error: %v", err)
	}
	if got != "Sunset\nhttps://pic.nijie.net/__rs_l(dw=70)/a.jpg" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestNicovideoPrefersLargeJPEGThumbnail(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sm9":
			w.Header().Set("Content-Type", "application/xml")
			_, _ = fmt.Fprintf(w, `<nicovideo_thumb_response status="ok"><thumb><thumbnail_url>%s/thumb/9</thumbnail_url></thumb></nicovideo_thumb_response>`, srv.URL)
		case "/thumb/9.L":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg"))
		case "/watch/sm9":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><head><title>Video Title</title></head></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	sites := NewSites(newTestFetcher(t))
	sites.NicovideoAPI = srv.URL + "/api"

	got, err := sites.Nicovideo(context.Background(), matchOf(srv.URL+"/watch/sm9", srv.URL+"/watch/sm9", "sm9"))
	if err != nil {
		t.Fatalf("Nicovideo() error: %v", err)
	}
	want := "Video Title\n" + srv.URL + "/thumb/9.L#.jpg"
	if got != want {
		t.Fatalf("Nicovideo() = %q, want %q", got, want)
	}
}

func TestScrapedSites(t *testing.T) {
	srv := serveHTML(t, map[string]string{
		"/gyazo":  `<html><head><meta name="twitter:image" content="https://i.gyazo.com/x.png"></head></html>`,
		"/askfm":  `<html><body><div class="question">Favourite food?</div><div class="answer"> Sushi </div></body></html>`,
		"/comic":  `<html><body><div class="main_visual"><img src="http://img.example/key"></div></body></html>`,
		"/mg1":    `<html><head><meta property="og:image" content="http://img.example/ep1"></head></html>`,
		"/live":   `<html><head><meta property="og:image" content="http://img.example/live"></head></html>`,
		"/2015/01/cat.html": `<html><body><div class="title"><h2> Cat </h2></div>
<div class="entry"><a href="#"><img src="http://img.example/cat1.png"></a><a href="#"><img src="http://img.example/cat2.png"></a>
<div class="separator">first</div><div class="separator"> A cat sleeping. </div></div></body></html>`,
	})

	sites := NewSites(newTestFetcher(t))
	sites.NicoliveBase = srv.URL
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() (string, error)
		want string
	}{
		{name: "gyazo", run: func() (string, error) { return sites.Gyazo(ctx, matchOf(srv.URL+"/gyazo", srv.URL+"/gyazo")) }, want: "https://i.gyazo.com/x.png"},
		{name: "askfm", run: func() (string, error) { return sites.AskFM(ctx, matchOf(srv.URL+"/askfm", srv.URL+"/askfm")) }, want: "Q: Favourite food?\nA: Sushi"},
		{name: "comic", run: func() (string, error) {
			return sites.NicoseigaComicMain(ctx, matchOf(srv.URL+"/comic", srv.URL+"/comic"))
		}, want: "http://img.example/key#.png"},
		{name: "comic watch", run: func() (string, error) {
			return sites.NicoseigaComicThumb(ctx, matchOf(srv.URL+"/mg1", srv.URL+"/mg1"))
		}, want: "http://img.example/ep1#.png"},
		{name: "nicolive", run: func() (string, error) { return sites.Nicolive(ctx, matchOf("http://live/gate/live", "live")) }, want: "http://img.example/live"},
		{name: "irasutoya", run: func() (string, error) {
			return sites.Irasutoya(ctx, matchOf(srv.URL+"/2015/01/cat.html", srv.URL+"/2015/01/cat.html"))
		}, want: "【Cat】\nA cat sleeping.\nhttp://img.example/cat1.png\nhttp://img.example/cat2.png"},
	}

	for _, tt := range tests {
		got, err := tt.run()
		if err != nil {
			t.Fatalf("%s error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestScrapedSiteMissingElementIsNoContent(t *testing.T) {
	srv := serveHTML(t, map[string]string{"/gyazo": `<html><head></head></html>`})

	_, err := NewSites(newTestFetcher(t)).Gyazo(context.Background(), matchOf(srv.URL+"/gyazo", srv.URL+"/gyazo"))
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	store, err := NewMemoryStore(2, 0)
	if err != nil {
		t.Fatalf("NewMemoryStore() error: %v", err)
	}
	ctx := context.Background()

	_ = store.Set(ctx, "a", "1")
	_ = store.Set(ctx, "b", "2")
	if _, ok, _ := store.Get(ctx, "a"); !ok {
		t.Fatal("expected a to be cached")
	}
	_ = store.Set(ctx, "c", "3")

	if _, ok, _ := store.Get(ctx, "b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if v, ok, _ := store.Get(ctx, "a"); !ok || v != "1" {
		t.Fatalf("expected a=1, got %q %v", v, ok)
	}
	if store.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", store.Len())
	}

	if _, err := NewMemoryStore(0, 0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	store, err := NewMemoryStore(4, time.Minute)
	if err != nil {
		t.Fatalf("NewMemoryStore() error: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Set(context.Background(), "k", "v")
	now = now.Add(59 * time.Second)
	if _, ok, _ := store.Get(context.Background(), "k"); !ok {
		t.Fatal("expected entry before expiry")
	}
	now = now.Add(time.Second)
	if _, ok, _ := store.Get(context.Background(), "k"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestCachedServesRepeatsFromStore(t *testing.T) {
	store, _ := NewMemoryStore(8, time.Hour)
	var calls atomic.Int32
	inner := dispatch.ExtractorFunc(func(_ context.Context, m dispatch.Match) (string, error) {
		calls.Add(1)
		if strings.Contains(m.Span, "empty") {
			return "", nil
		}
		if strings.Contains(m.Span, "fail") {
			return "", errors.New("boom")
		}
		return "title of " + m.Span, nil
	})
	ex := Cached(inner, store, logger.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := ex.Extract(ctx, dispatch.Match{Entry: "page", Span: "http://a.example"})
		if err != nil || got != "title of http://a.example" {
			t.Fatalf("Extract() = %q, %v", got, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("inner called %d times, want 1", calls.Load())
	}

	for i := 0; i < 2; i++ {
		_, _ = ex.Extract(ctx, dispatch.Match{Entry: "page", Span: "http://empty.example"})
		_, _ = ex.Extract(ctx, dispatch.Match{Entry: "page", Span: "http://fail.example"})
	}
	if calls.Load() != 5 {
		t.Fatalf("empty and failed results must not be cached; inner called %d times", calls.Load())
	}
}

func TestCacheKeySeparatesEntries(t *testing.T) {
	a := CacheKey("page", "http://a.example")
	if a != CacheKey("page", "http://a.example") {
		t.Fatal("expected stable key")
	}
	if a == CacheKey("gyazo", "http://a.example") {
		t.Fatal("expected entry name to be part of the key")
	}
	if !strings.HasPrefix(a, cacheKeyPrefix+"page:") {
		t.Fatalf("unexpected key %q", a)
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	store, err := NewStore(context.Background(), config.CacheConfig{}, nil)
	if err != nil || store != nil {
		t.Fatalf("disabled cache should yield nil store, got %v %v", store, err)
	}

	store, err = NewStore(context.Background(), config.CacheConfig{Enabled: true, Backend: "memory", MaxEntries: 4}, nil)
	if err != nil {
		t.Fatalf("NewStore(memory) error: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	if _, err := NewStore(context.Background(), config.CacheConfig{Enabled: true, Backend: "redis"}, nil); err == nil {
		t.Fatal("expected error for redis without url")
	}
	if _, err := NewStore(context.Background(), config.CacheConfig{Enabled: true, Backend: "memcached"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
