package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	webhttp "github.com/mjytdlp/mjytdlp/backends/web/http"
	"github.com/mjytdlp/mjytdlp/cookies"
	"github.com/mjytdlp/mjytdlp/storages/cache"
	"github.com/mjytdlp/mjytdlp/types"
)

const (
	DefaultBinary       = "yt-dlp"
	DefaultFetchTimeout = 30 * time.Second
	DefaultCacheTTL     = 10 * time.Minute

	Upstream = "yt-dlp"

	// MaxSubtitleSize bounds inline subtitle downloads.
	MaxSubtitleSize = 8 << 20
)

type Config struct {
	Binary       string
	CacheTTL     time.Duration
	FetchTimeout time.Duration
}

// Extractor runs yt-dlp in metadata-only mode and shapes its output.
type Extractor struct {
	runner  Runner
	cookies *cookies.Store
	cache   cache.Storage
	conf    Config
}

func NewExtractor(runner Runner, cookieStore *cookies.Store, cacheStorage cache.Storage, conf Config) *Extractor {
	if conf.Binary == "" {
		conf.Binary = DefaultBinary
	}
	if conf.CacheTTL == 0 {
		conf.CacheTTL = DefaultCacheTTL
	}
	if conf.FetchTimeout <= 0 {
		conf.FetchTimeout = DefaultFetchTimeout
	}
	if cacheStorage == nil {
		cacheStorage = cache.None{}
	}
	return &Extractor{
		runner:  runner,
		cookies: cookieStore,
		cache:   cacheStorage,
		conf:    conf,
	}
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", types.NewInvalidInput("missing url")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", types.NewInvalidInput("malformed url: " + types.Truncate(raw, 200))
	}
	return raw, nil
}

// Extract returns the info document for rawUrl. Playlists resolve to their
// first entry. Results are cached per url and options.
func (e *Extractor) Extract(ctx context.Context, rawUrl string, opts Options) (Info, error) {
	target, err := ValidateURL(rawUrl)
	if err != nil {
		return nil, err
	}

	cookieFile := opts.resolveCookies(e.cookies)
	args := []string{
		"-J",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
		"--no-check-certificates",
		"--no-cache-dir",
	}
	args = append(args, opts.args(cookieFile)...)
	args = append(args, "--", target)

	key := cacheKey(target, cookieFile, opts)
	if data, found, err := e.cache.Get(ctx, key); err != nil {
		log.WithError(err).Warning("Failed to read extraction cache")
	} else if found {
		var info Info
		if err := json.Unmarshal(data, &info); err == nil {
			return info, nil
		}
	}

	stdout, stderr, err := e.runner.Run(ctx, e.conf.Binary, args...)
	if err != nil {
		if types.IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewUpstreamTimeout(Upstream, err)
		}
		msg := stderrMessage(stderr)
		if msg == "" {
			msg = err.Error()
		}
		return nil, types.NewUpstreamError(Upstream, 0, msg)
	}

	info, err := parseInfo(stdout)
	if err != nil {
		return nil, err
	}

	if e.conf.CacheTTL > 0 {
		if data, err := json.Marshal(info); err == nil {
			if err := e.cache.Set(ctx, key, data, e.conf.CacheTTL); err != nil {
				log.WithError(err).Warning("Failed to write extraction cache")
			}
		}
	}
	return info, nil
}

func parseInfo(stdout []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &info); err != nil || info == nil {
		return nil, types.NewUpstreamError(Upstream, 0, "failed to parse yt-dlp output")
	}
	if info.str("_type") == "playlist" {
		for _, entry := range info.list("entries") {
			if m, ok := entry.(map[string]any); ok {
				return Info(m), nil
			}
		}
	}
	return info, nil
}

// stderrMessage keeps the ERROR lines yt-dlp prints, or the last line.
func stderrMessage(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	var errLines []string
	for _, line := range lines {
		if strings.HasPrefix(line, "ERROR:") {
			errLines = append(errLines, strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")))
		}
	}
	if len(errLines) > 0 {
		return strings.Join(errLines, "; ")
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func cacheKey(target, cookieFile string, opts Options) string {
	return strings.Join([]string{"info", target, cookieFile, opts.Proxy, opts.UserAgent, opts.Referer}, "\x00")
}

func (e *Extractor) Probe(ctx context.Context, rawUrl string, opts Options, full bool) (*Summary, error) {
	info, err := e.Extract(ctx, rawUrl, opts)
	if err != nil {
		return nil, err
	}
	return Summarize(info, full), nil
}

func (e *Extractor) Formats(ctx context.Context, rawUrl string, opts Options, limit int) (*FormatList, error) {
	info, err := e.Extract(ctx, rawUrl, opts)
	if err != nil {
		return nil, err
	}
	return ListFormats(info, limit), nil
}

func (e *Extractor) ListSubs(ctx context.Context, rawUrl string, opts Options, filter SubFilter) (*SubList, error) {
	info, err := e.Extract(ctx, rawUrl, opts)
	if err != nil {
		return nil, err
	}
	return ListSubs(info, filter), nil
}

func (e *Extractor) AudioStream(ctx context.Context, rawUrl string, opts Options) (*AudioStream, error) {
	info, err := e.Extract(ctx, rawUrl, opts)
	if err != nil {
		return nil, err
	}
	stream, ok := PickAudio(info)
	if !ok {
		return nil, types.NewUpstreamError(Upstream, 0, "no audio stream found")
	}
	return stream, nil
}

type SubRequest struct {
	Lang     string
	Format   string
	Auto     *bool
	LinkOnly bool
}

type Subtitle struct {
	Lang        string            `json:"lang"`
	Format      *string           `json:"format"`
	IsAuto      bool              `json:"is_auto"`
	DownloadUrl string            `json:"download_url,omitempty"`
	HttpHeaders map[string]string `json:"http_headers,omitempty"`
	Content     *string           `json:"content,omitempty"`
}

// DownloadSubs picks a subtitle track and either returns its link or fetches
// its content.
func (e *Extractor) DownloadSubs(ctx context.Context, rawUrl string, opts Options, req SubRequest) (*Subtitle, error) {
	info, err := e.Extract(ctx, rawUrl, opts)
	if err != nil {
		return nil, err
	}

	subUrl, isAuto, ok := PickSubtitle(info, req.Lang, req.Auto, req.Format)
	if !ok {
		return nil, types.NewUpstreamError(Upstream, 0, "subtitle not found: "+req.Lang)
	}

	out := &Subtitle{Lang: req.Lang, IsAuto: isAuto}
	if req.Format != "" {
		format := req.Format
		out.Format = &format
	}
	headers := info.headers(nil)

	if req.LinkOnly {
		out.DownloadUrl = subUrl
		out.HttpHeaders = headers
		return out, nil
	}

	timeout := e.conf.FetchTimeout
	if opts.Timeout > 0 {
		timeout = time.Duration(opts.Timeout * float64(time.Second))
	}
	content, err := fetch(ctx, subUrl, headers, timeout)
	if err != nil {
		return nil, err
	}
	out.Content = &content
	return out, nil
}

func fetch(ctx context.Context, target string, headers map[string]string, timeout time.Duration) (string, error) {
	const upstream = "subtitles"

	client, err := webhttp.NewClient(&webhttp.Config{Name: upstream, Timeout: timeout})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", types.NewInvalidInput("invalid subtitle url")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", types.WrapUpstream(upstream, err)
	}
	defer resp.Body.Close()

	if err := webhttp.CheckResponse(upstream, resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxSubtitleSize))
	if err != nil {
		return "", types.WrapUpstream(upstream, err)
	}
	return string(body), nil
}

type Version struct {
	Version *string `json:"version"`
}

func (e *Extractor) Version(ctx context.Context) (*Version, error) {
	stdout, stderr, err := e.runner.Run(ctx, e.conf.Binary, "--version")
	if err != nil {
		if types.IsTimeout(err) {
			return nil, types.NewUpstreamTimeout(Upstream, err)
		}
		log.WithError(err).WithField("stderr", types.Truncate(string(stderr), 200)).Warning("Failed to read yt-dlp version")
		return &Version{}, nil
	}
	v := strings.TrimSpace(string(stdout))
	if v == "" {
		return &Version{}, nil
	}
	return &Version{Version: &v}, nil
}
