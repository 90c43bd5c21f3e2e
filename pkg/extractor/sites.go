package extractor

import (
	"context"
	"encoding/xml"
	"fmt"
	"mime"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"unfurlbot/pkg/dispatch"
)

var (
	imageExtension = regexp.MustCompile(`(?i)\.(jpe?g|gif|png)$`)
	nijieResize    = regexp.MustCompile(`\(.+\)`)
)

// Sites holds the site-specific extractors. Hosts can be overridden so tests
// point them at a local server.
type Sites struct {
	fetcher *Fetcher
	title   *PageExtractor

	NicovideoAPI string
	NicoliveBase string
	NijieBase    string
}

func NewSites(fetcher *Fetcher) *Sites {
	return &Sites{
		fetcher:      fetcher,
		title:        NewTitleExtractor(fetcher),
		NicovideoAPI: "http://ext.nicovideo.jp/api/getthumbinfo",
		NicoliveBase: "http://live.nicovideo.jp/gate",
		NijieBase:    "http://nijie.info/view.php",
	}
}

type thumbInfo struct {
	ThumbnailURL string `xml:"thumb>thumbnail_url"`
}

// Nicovideo replies with the watch page title and the largest thumbnail
// that is actually served as a JPEG.
func (s *Sites) Nicovideo(ctx context.Context, m dispatch.Match) (string, error) {
	watchURL, id := m.Group(1), m.Group(2)

	page, err := s.fetcher.GetOK(ctx, s.NicovideoAPI+"/"+id)
	if err != nil {
		return "", err
	}

	var info thumbInfo
	if err := xml.Unmarshal(page.Body, &info); err != nil {
		return "", fmt.Errorf("decode thumb info for %s: %w", id, err)
	}
	small := strings.TrimSpace(info.ThumbnailURL)
	if small == "" {
		return "", fmt.Errorf("%w: no thumbnail for %s", ErrNoContent, id)
	}

	thumb := small
	large := small + ".L"
	if headers, err := s.fetcher.Headers(ctx, large); err == nil {
		if contentType, _, _ := mime.ParseMediaType(headers.Get("Content-Type")); contentType == "image/jpeg" {
			thumb = large
		}
	}

	title, err := s.title.Describe(ctx, watchURL)
	if err != nil {
		return "", err
	}
	return title + "\n" + thumb + "#.jpg", nil
}

// Nicolive replies with the gate page preview image.
func (s *Sites) Nicolive(ctx context.Context, m dispatch.Match) (string, error) {
	doc, err := s.fetcher.Document(ctx, s.NicoliveBase+"/"+m.Group(1))
	if err != nil {
		return "", err
	}
	return attrOf(doc, `meta[property="og:image"]`, "content")
}

// Nijie replies with the illust title and a resized image URL.
func (s *Sites) Nijie(ctx context.Context, m dispatch.Match) (string, error) {
	doc, err := s.fetcher.Document(ctx, s.NijieBase+"?id="+m.Group(1))
	if err != nil {
		return "", err
	}

	title, err := attrOf(doc, `meta[property="og:title"]`, "content")
	if err != nil {
		return "", err
	}
	src, err := attrOf(doc, "div.image img.mozamoza", "src")
	if err != nil {
		return "", err
	}

	src = nijieResize.ReplaceAllString(src, "(dw=70)")
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	return title + "\n" + src, nil
}

// Droplr links straight to the PNG rendition, which every client can show.
func Droplr(_ context.Context, m dispatch.Match) (string, error) {
	return "http://d.pr/i/" + m.Group(1) + ".png", nil
}

func NicoseigaImage(_ context.Context, m dispatch.Match) (string, error) {
	return "http://lohas.nicoseiga.jp/thumb/" + m.Group(1) + "i#.png", nil
}

// NicoseigaComicThumb replies with a comic episode's preview image.
func (s *Sites) NicoseigaComicThumb(ctx context.Context, m dispatch.Match) (string, error) {
	doc, err := s.fetcher.Document(ctx, m.Group(1))
	if err != nil {
		return "", err
	}
	image, err := attrOf(doc, `meta[property="og:image"]`, "content")
	if err != nil {
		return "", err
	}
	return image + "#.png", nil
}

// NicoseigaComicMain replies with a comic series' key visual.
func (s *Sites) NicoseigaComicMain(ctx context.Context, m dispatch.Match) (string, error) {
	doc, err := s.fetcher.Document(ctx, m.Group(1))
	if err != nil {
		return "", err
	}
	src, err := attrOf(doc, ".main_visual img", "src")
	if err != nil {
		return "", err
	}
	return src + "#.png", nil
}

// Gyazo resolves a share page to its raw image.
func (s *Sites) Gyazo(ctx context.Context, m dispatch.Match) (string, error) {
	doc, err := s.fetcher.Document(ctx, m.Group(1))
	if err != nil {
		return "", err
	}
	return attrOf(doc, `meta[name="twitter:image"]`, "content")
}

// Owly links to the normal-size photo; ow.ly serves every upload as JPEG.
func Owly(_ context.Context, m dispatch.Match) (string, error) {
	return "http://static.ow.ly/photos/normal/" + m.Group(1) + ".jpg", nil
}

// Yimg tags extensionless image URLs so chat clients inline them.
func Yimg(_ context.Context, m dispatch.Match) (string, error) {
	return AppendExtension(m.Group(1), "jpg"), nil
}

// AskFM replies with the question and its answer.
func (s *Sites) AskFM(ctx context.Context, m dispatch.Match) (string, error) {
	doc, err := s.fetcher.Document(ctx, m.Group(1))
	if err != nil {
		return "", err
	}
	question, err := textOf(doc, ".question")
	if err != nil {
		return "", err
	}
	answer, err := textOf(doc, ".answer")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Q: %s\nA: %s", question, answer), nil
}

func Twipple(_ context.Context, m dispatch.Match) (string, error) {
	return "http://p.twpl.jp/show/large/" + m.Group(1) + "#.jpg", nil
}

// Irasutoya replies with the illustration title, its description and every
// image in the entry.
func (s *Sites) Irasutoya(ctx context.Context, m dispatch.Match) (string, error) {
	doc, err := s.fetcher.Document(ctx, m.Group(1))
	if err != nil {
		return "", err
	}

	title, err := textOf(doc, ".title h2")
	if err != nil {
		return "", err
	}

	var images []string
	doc.Find(".entry a img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			images = append(images, src)
		}
	})

	separators := doc.Find(".entry .separator")
	if separators.Length() < 2 {
		return "", fmt.Errorf("%w: irasutoya description not found", ErrNoContent)
	}
	description := strings.TrimSpace(separators.Eq(1).Text())

	return fmt.Sprintf("【%s】\n%s\n%s", title, description, strings.Join(images, "\n")), nil
}

func Dropbox(_ context.Context, m dispatch.Match) (string, error) {
	return "https://dl.dropboxusercontent.com/" + m.Group(1), nil
}

// ImgurGifv points a .gifv page at the plain GIF.
func ImgurGifv(_ context.Context, m dispatch.Match) (string, error) {
	return m.Group(1), nil
}

// AppendExtension adds a "#.ext" fragment unless url already ends in an
// image extension.
func AppendExtension(url string, extension string) string {
	if imageExtension.MatchString(url) {
		return url
	}
	return url + "#." + extension
}
