package extractor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// unlinkableGlyphs break auto-linking in chat clients.
var unlinkableGlyphs = strings.NewReplacer("[", "%5B", "]", "%5D")

// EscapeURL makes a URL copied from chat safe to fetch and to link: an
// internationalised host becomes punycode, non-ASCII path bytes are
// percent-encoded and square brackets are escaped. Anything already ASCII
// is left as typed.
func EscapeURL(rawURL string) (string, error) {
	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd <= 0 {
		return "", fmt.Errorf("escape %q: missing scheme", rawURL)
	}

	authorityStart := schemeEnd + len("://")
	authorityEnd := len(rawURL)
	if i := strings.IndexAny(rawURL[authorityStart:], "/?#"); i >= 0 {
		authorityEnd = authorityStart + i
	}

	site := rawURL[:authorityEnd]
	if hasMultibyte(site) {
		normalized, err := normalizeSite(rawURL[:authorityStart], rawURL[authorityStart:authorityEnd])
		if err != nil {
			return "", fmt.Errorf("escape %q: %w", rawURL, err)
		}
		site = normalized
	}

	return site + escapePath(rawURL[authorityEnd:]), nil
}

// normalizeSite converts the host part of an authority to its ASCII form.
func normalizeSite(prefix string, authority string) (string, error) {
	userinfo := ""
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		userinfo = authority[:at+1]
		authority = authority[at+1:]
	}

	host, port := authority, ""
	if colon := strings.LastIndex(authority, ":"); colon >= 0 && !strings.Contains(authority[colon:], "]") {
		host, port = authority[:colon], authority[colon:]
	}

	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("convert host %q: %w", host, err)
	}

	return strings.ToLower(prefix) + userinfo + asciiHost + port, nil
}

func escapePath(path string) string {
	if hasMultibyte(path) {
		var b strings.Builder
		for i := 0; i < len(path); i++ {
			c := path[i]
			if c >= utf8.RuneSelf {
				fmt.Fprintf(&b, "%%%02X", c)
				continue
			}
			b.WriteByte(c)
		}
		path = b.String()
	}

	return unlinkableGlyphs.Replace(path)
}

func hasMultibyte(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}
