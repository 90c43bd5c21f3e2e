package extractor

import (
	"log/slog"

	"unfurlbot/pkg/dispatch"
)

// Entry names, in priority order.
const (
	EntryNicovideo           = "nicovideo"
	EntryNicolive            = "nicolive"
	EntryNijie               = "nijie"
	EntryDroplr              = "droplr"
	EntryNicoseigaImage      = "nicoseiga_image"
	EntryNicoseigaComicWatch = "nicoseiga_comic_watch"
	EntryNicoseigaComic      = "nicoseiga_comic"
	EntryGyazo               = "gyazo"
	EntryOwly                = "owly"
	EntryYimg                = "yimg"
	EntryAskFM               = "askfm"
	EntryTwipple             = "twipple"
	EntryIrasutoya           = "irasutoya"
	EntryDropbox             = "dropbox"
	EntryImgurGifv           = "imgur_gifv"
	EntryPage                = "page"
)

// NewRegistry returns the bot's extractor table. Entries are tried in the
// order listed; the catch-all page entry goes last so that every specific
// site shadows it. store may be nil to disable caching.
func NewRegistry(fetcher *Fetcher, store Store, log *slog.Logger) *dispatch.Registry {
	sites := NewSites(fetcher)
	page := NewPageExtractor(fetcher)

	cached := func(ex dispatch.Extractor) dispatch.Extractor {
		return Cached(ex, store, log)
	}

	r := dispatch.NewRegistry()
	r.MustRegister(EntryNicovideo, `(https?://(?:www\.nicovideo\.jp/watch|nico\.ms)/((?:sm|nm)?\d+))`, cached(dispatch.ExtractorFunc(sites.Nicovideo)))
	r.MustRegister(EntryNicolive, `https?://live\.nicovideo\.jp/gate/(lv\d+)`, cached(dispatch.ExtractorFunc(sites.Nicolive)))
	r.MustRegister(EntryNijie, `https?://(?:sp\.)?nijie\.info/view\.php\?id=(\d+)`, cached(dispatch.ExtractorFunc(sites.Nijie)))
	r.MustRegister(EntryDroplr, `(?m)https?://d\.pr/i/(\w+)$`, dispatch.ExtractorFunc(Droplr))
	r.MustRegister(EntryNicoseigaImage, `https?://seiga\.nicovideo\.jp/seiga/im(\d+)`, dispatch.ExtractorFunc(NicoseigaImage))
	r.MustRegister(EntryNicoseigaComicWatch, `(https?://seiga\.nicovideo\.jp/watch/mg\d+)`, cached(dispatch.ExtractorFunc(sites.NicoseigaComicThumb)))
	r.MustRegister(EntryNicoseigaComic, `(https?://seiga\.nicovideo\.jp/comic/\d+)`, cached(dispatch.ExtractorFunc(sites.NicoseigaComicMain)))
	r.MustRegister(EntryGyazo, `(?m)(https?://gyazo\.com/\w+)$`, cached(dispatch.ExtractorFunc(sites.Gyazo)))
	r.MustRegister(EntryOwly, `https?://ow\.ly/i/(\w+)`, dispatch.ExtractorFunc(Owly))
	r.MustRegister(EntryYimg, `(https?://\w+\.\w\.yimg\.jp/.+)`, dispatch.ExtractorFunc(Yimg))
	r.MustRegister(EntryAskFM, `(https?://ask\.fm/.+/answer/\d+)`, cached(dispatch.ExtractorFunc(sites.AskFM)))
	r.MustRegister(EntryTwipple, `https?://p\.twipple\.jp/(\w+)`, dispatch.ExtractorFunc(Twipple))
	r.MustRegister(EntryIrasutoya, `(https?://www\.irasutoya\.com/\d+/\d+/[a-z0-9_-]+\.html)`, cached(dispatch.ExtractorFunc(sites.Irasutoya)))
	r.MustRegister(EntryDropbox, `https?://www\.dropbox\.com/(.+\.(?:jpe?g|gif|png))\?dl=0`, dispatch.ExtractorFunc(Dropbox))
	r.MustRegister(EntryImgurGifv, `(https?://i\.imgur\.com/[0-9a-zA-Z]+\.gif)v`, dispatch.ExtractorFunc(ImgurGifv))
	r.MustRegister(EntryPage, `(https?://\S+)`, cached(page))
	return r
}
