package ytdlp

import (
	"strconv"
	"strings"

	"github.com/mjytdlp/mjytdlp/cookies"
)

// Options tune a single extraction.
type Options struct {
	CookiesPath string  `json:"cookies_path,omitempty"`
	CookiesName string  `json:"cookies_name,omitempty"`
	Proxy       string  `json:"proxy,omitempty"`
	UserAgent   string  `json:"user_agent,omitempty"`
	Referer     string  `json:"referer,omitempty"`
	Timeout     float64 `json:"timeout,omitempty"`
}

// OptionsFromMap reads the tool "options" argument; fields of the wrong
// type are ignored.
func OptionsFromMap(raw map[string]any) Options {
	str := func(key string) string {
		s, _ := raw[key].(string)
		return strings.TrimSpace(s)
	}
	opts := Options{
		CookiesPath: str("cookies_path"),
		CookiesName: str("cookies_name"),
		Proxy:       str("proxy"),
		UserAgent:   str("user_agent"),
		Referer:     str("referer"),
	}
	if t, ok := raw["timeout"].(float64); ok && t > 0 {
		opts.Timeout = t
	}
	return opts
}

// args maps the options onto yt-dlp flags. cookieFile is the resolved jar.
func (o Options) args(cookieFile string) []string {
	var args []string
	if cookieFile != "" {
		args = append(args, "--cookies", cookieFile)
	}
	if o.Proxy != "" {
		args = append(args, "--proxy", o.Proxy)
	}
	if o.UserAgent != "" {
		args = append(args, "--user-agent", o.UserAgent)
	}
	if o.Referer != "" {
		args = append(args, "--referer", o.Referer)
	}
	if o.Timeout > 0 {
		args = append(args, "--socket-timeout", strconv.FormatFloat(o.Timeout, 'f', -1, 64))
	}
	return args
}

func (o Options) resolveCookies(store *cookies.Store) string {
	if store == nil {
		return strings.TrimSpace(o.CookiesPath)
	}
	return store.Resolve(o.CookiesPath, o.CookiesName)
}
