package ytdlp

import (
	"fmt"
	"sort"
)

// Info is the JSON document yt-dlp prints for one video.
type Info map[string]any

func (i Info) str(key string) string {
	s, _ := i[key].(string)
	return s
}

func (i Info) num(key string) float64 {
	f, _ := i[key].(float64)
	return f
}

func (i Info) list(key string) []any {
	l, _ := i[key].([]any)
	return l
}

func (i Info) object(key string) map[string]any {
	m, _ := i[key].(map[string]any)
	return m
}

// headers returns the request headers needed to fetch the format's url,
// falling back to the video level headers.
func (i Info) headers(format Info) map[string]string {
	src := format.object("http_headers")
	if src == nil {
		src = i.object("http_headers")
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func (i Info) formats() []Info {
	var out []Info
	for _, f := range i.list("formats") {
		if m, ok := f.(map[string]any); ok {
			out = append(out, Info(m))
		}
	}
	return out
}

type Summary struct {
	Id           any `json:"id"`
	Title        any `json:"title"`
	Duration     any `json:"duration"`
	Uploader     any `json:"uploader"`
	UploaderId   any `json:"uploader_id"`
	Channel      any `json:"channel"`
	ChannelId    any `json:"channel_id"`
	UploadDate   any `json:"upload_date"`
	ViewCount    any `json:"view_count"`
	LikeCount    any `json:"like_count"`
	CommentCount any `json:"comment_count"`
	WebpageUrl   any `json:"webpage_url"`
	Extractor    any `json:"extractor"`
	Thumbnail    any `json:"thumbnail"`
	IsLive       any `json:"is_live"`
	LiveStatus   any `json:"live_status"`

	// only with full
	Description any `json:"description,omitempty"`
	Tags        any `json:"tags,omitempty"`
	Categories  any `json:"categories,omitempty"`
	Thumbnails  any `json:"thumbnails,omitempty"`
}

func Summarize(info Info, full bool) *Summary {
	s := &Summary{
		Id:           info["id"],
		Title:        info["title"],
		Duration:     info["duration"],
		Uploader:     info["uploader"],
		UploaderId:   info["uploader_id"],
		Channel:      info["channel"],
		ChannelId:    info["channel_id"],
		UploadDate:   info["upload_date"],
		ViewCount:    info["view_count"],
		LikeCount:    info["like_count"],
		CommentCount: info["comment_count"],
		WebpageUrl:   info["webpage_url"],
		Extractor:    info["extractor"],
		Thumbnail:    info["thumbnail"],
		IsLive:       info["is_live"],
		LiveStatus:   info["live_status"],
	}
	if full {
		s.Description = info["description"]
		s.Tags = info["tags"]
		s.Categories = info["categories"]
		s.Thumbnails = info["thumbnails"]
	}
	return s
}

type Format struct {
	FormatId       any               `json:"format_id"`
	Ext            any               `json:"ext"`
	FormatNote     any               `json:"format_note"`
	Resolution     any               `json:"resolution"`
	Width          any               `json:"width"`
	Height         any               `json:"height"`
	Fps            any               `json:"fps"`
	Vcodec         any               `json:"vcodec"`
	Acodec         any               `json:"acodec"`
	Tbr            any               `json:"tbr"`
	Abr            any               `json:"abr"`
	Filesize       any               `json:"filesize"`
	FilesizeApprox any               `json:"filesize_approx"`
	Protocol       any               `json:"protocol"`
	DownloadUrl    any               `json:"download_url"`
	ManifestUrl    any               `json:"manifest_url"`
	HttpHeaders    map[string]string `json:"http_headers"`
}

type FormatList struct {
	Id          any               `json:"id"`
	Title       any               `json:"title"`
	WebpageUrl  any               `json:"webpage_url"`
	HttpHeaders map[string]string `json:"http_headers"`
	Formats     []*Format         `json:"formats"`
}

// ListFormats keeps yt-dlp's order; limit <= 0 means all.
func ListFormats(info Info, limit int) *FormatList {
	out := &FormatList{
		Id:          info["id"],
		Title:       info["title"],
		WebpageUrl:  info["webpage_url"],
		HttpHeaders: info.headers(nil),
		Formats:     []*Format{},
	}
	for _, f := range info.formats() {
		if limit > 0 && len(out.Formats) >= limit {
			break
		}
		resolution := f["resolution"]
		if resolution == nil || resolution == "" {
			resolution = nil
			if w, h := f.num("width"), f.num("height"); w > 0 && h > 0 {
				resolution = fmt.Sprintf("%dx%d", int(w), int(h))
			}
		}
		out.Formats = append(out.Formats, &Format{
			FormatId:       f["format_id"],
			Ext:            f["ext"],
			FormatNote:     f["format_note"],
			Resolution:     resolution,
			Width:          f["width"],
			Height:         f["height"],
			Fps:            f["fps"],
			Vcodec:         f["vcodec"],
			Acodec:         f["acodec"],
			Tbr:            f["tbr"],
			Abr:            f["abr"],
			Filesize:       f["filesize"],
			FilesizeApprox: f["filesize_approx"],
			Protocol:       f["protocol"],
			DownloadUrl:    f["url"],
			ManifestUrl:    f["manifest_url"],
			HttpHeaders:    info.headers(f),
		})
	}
	return out
}

type AudioStream struct {
	Id          any               `json:"id"`
	Title       any               `json:"title"`
	WebpageUrl  any               `json:"webpage_url"`
	FormatId    any               `json:"format_id"`
	Ext         any               `json:"ext"`
	Acodec      any               `json:"acodec"`
	Abr         any               `json:"abr"`
	Filesize    float64           `json:"filesize,omitempty"`
	DownloadUrl string            `json:"download_url"`
	HttpHeaders map[string]string `json:"http_headers"`
}

func audioScore(f Info) (float64, float64) {
	bitrate := f.num("abr")
	if bitrate == 0 {
		bitrate = f.num("tbr")
	}
	size := f.num("filesize")
	if size == 0 {
		size = f.num("filesize_approx")
	}
	return bitrate, size
}

func better(a, b Info) bool {
	ab, as := audioScore(a)
	bb, bs := audioScore(b)
	if ab != bb {
		return ab > bb
	}
	return as > bs
}

// PickAudio prefers the best audio-only format (by bitrate, then size) and
// falls back to the best format that has a url at all.
func PickAudio(info Info) (*AudioStream, bool) {
	var best, bestAny Info
	for _, f := range info.formats() {
		acodec := f.str("acodec")
		if f.str("vcodec") == "none" && acodec != "" && acodec != "none" {
			if best == nil || better(f, best) {
				best = f
			}
		}
		if f.str("url") != "" && (bestAny == nil || better(f, bestAny)) {
			bestAny = f
		}
	}
	if best == nil {
		best = bestAny
	}
	if best == nil || best.str("url") == "" {
		return nil, false
	}

	_, size := audioScore(best)
	return &AudioStream{
		Id:          info["id"],
		Title:       info["title"],
		WebpageUrl:  info["webpage_url"],
		FormatId:    best["format_id"],
		Ext:         best["ext"],
		Acodec:      best["acodec"],
		Abr:         best["abr"],
		Filesize:    size,
		DownloadUrl: best.str("url"),
		HttpHeaders: info.headers(best),
	}, true
}

type SubFormat struct {
	Ext         any `json:"ext"`
	Name        any `json:"name"`
	DownloadUrl any `json:"download_url"`
}

type SubTrack struct {
	Lang    string       `json:"lang"`
	IsAuto  bool         `json:"is_auto"`
	Formats []*SubFormat `json:"formats"`
}

type SubList struct {
	Id          any               `json:"id"`
	Title       any               `json:"title"`
	WebpageUrl  any               `json:"webpage_url"`
	HttpHeaders map[string]string `json:"http_headers"`
	Subtitles   []*SubTrack       `json:"subtitles"`
}

type SubFilter struct {
	Langs         []string
	IncludeAuto   bool
	IncludeManual bool
}

// ListSubs lists manual tracks first, then automatic captions, each sorted
// by language code.
func ListSubs(info Info, filter SubFilter) *SubList {
	out := &SubList{
		Id:          info["id"],
		Title:       info["title"],
		WebpageUrl:  info["webpage_url"],
		HttpHeaders: info.headers(nil),
		Subtitles:   []*SubTrack{},
	}
	if filter.IncludeManual {
		out.Subtitles = append(out.Subtitles, collectSubs(info.object("subtitles"), false, filter.Langs)...)
	}
	if filter.IncludeAuto {
		out.Subtitles = append(out.Subtitles, collectSubs(info.object("automatic_captions"), true, filter.Langs)...)
	}
	return out
}

func collectSubs(source map[string]any, isAuto bool, langs []string) []*SubTrack {
	wanted := map[string]bool{}
	for _, l := range langs {
		wanted[l] = true
	}

	keys := make([]string, 0, len(source))
	for lang := range source {
		if len(wanted) > 0 && !wanted[lang] {
			continue
		}
		keys = append(keys, lang)
	}
	sort.Strings(keys)

	out := make([]*SubTrack, 0, len(keys))
	for _, lang := range keys {
		track := &SubTrack{Lang: lang, IsAuto: isAuto, Formats: []*SubFormat{}}
		tracks, _ := source[lang].([]any)
		for _, t := range tracks {
			m, ok := t.(map[string]any)
			if !ok {
				continue
			}
			track.Formats = append(track.Formats, &SubFormat{
				Ext:         m["ext"],
				Name:        m["name"],
				DownloadUrl: m["url"],
			})
		}
		out = append(out, track)
	}
	return out
}

// SubtitlePreference is the format order used when none is requested.
var SubtitlePreference = []string{"vtt", "srt", "srv3", "srv2", "srv1", "ttml"}

// PickSubtitle finds the track url for lang. auto selects the source: nil
// tries manual subtitles then automatic captions.
func PickSubtitle(info Info, lang string, auto *bool, format string) (string, bool, bool) {
	type source struct {
		isAuto bool
		tracks map[string]any
	}
	var order []source
	switch {
	case auto == nil:
		order = []source{{false, info.object("subtitles")}, {true, info.object("automatic_captions")}}
	case *auto:
		order = []source{{true, info.object("automatic_captions")}}
	default:
		order = []source{{false, info.object("subtitles")}}
	}

	prefer := SubtitlePreference
	if format != "" {
		prefer = []string{format}
	}

	for _, src := range order {
		list, _ := src.tracks[lang].([]any)
		var tracks []Info
		for _, t := range list {
			if m, ok := t.(map[string]any); ok && Info(m).str("url") != "" {
				tracks = append(tracks, Info(m))
			}
		}
		if len(tracks) == 0 {
			continue
		}
		for _, ext := range prefer {
			for _, t := range tracks {
				if t.str("ext") == ext {
					return t.str("url"), src.isAuto, true
				}
			}
		}
		return tracks[0].str("url"), src.isAuto, true
	}
	return "", false, false
}
