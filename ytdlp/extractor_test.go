package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjytdlp/mjytdlp/cookies"
	"github.com/mjytdlp/mjytdlp/storages/cache"
	"github.com/mjytdlp/mjytdlp/types"
)

const videoUrl = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func newExtractor(t *testing.T, runner *MockRunner) (*Extractor, string) {
	t.Helper()
	dir := t.TempDir()
	return NewExtractor(runner, cookies.NewStore(dir), cache.NewInMemory(clockwork.NewFakeClock()), Config{}), dir
}

func videoJSON(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/video.json")
	require.NoError(t, err)
	return data
}

func TestValidateURL(t *testing.T) {
	for _, bad := range []string{"", "   ", "not a url", "ftp://example.com/x", "https://", "/relative/path"} {
		_, err := ValidateURL(bad)
		var toolErr *types.ToolError
		require.ErrorAs(t, err, &toolErr, bad)
		assert.Equal(t, types.KindInvalidInput, toolErr.Kind)
	}
	got, err := ValidateURL(" " + videoUrl + " ")
	require.NoError(t, err)
	assert.Equal(t, videoUrl, got)
}

func TestExtractArgsAndCache(t *testing.T) {
	runner := NewMockRunner()
	runner.Respond(videoUrl, MockResponse{Stdout: videoJSON(t)})
	ex, dir := newExtractor(t, runner)

	_, err := cookies.NewStore(dir).Write("", strings.NewReader("# Netscape HTTP Cookie File\n"))
	require.NoError(t, err)

	opts := Options{Proxy: "socks5://127.0.0.1:1080", UserAgent: "UA", Referer: "https://ref", Timeout: 7.5}
	summary, err := ex.Probe(context.Background(), videoUrl, opts, false)
	require.NoError(t, err)
	assert.Equal(t, "Sample video", summary.Title)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, DefaultBinary, calls[0].Name)
	assert.Equal(t, []string{
		"-J", "--skip-download", "--no-playlist", "--no-warnings", "--no-check-certificates", "--no-cache-dir",
		"--cookies", dir + "/cookies.txt",
		"--proxy", "socks5://127.0.0.1:1080",
		"--user-agent", "UA",
		"--referer", "https://ref",
		"--socket-timeout", "7.5",
		"--", videoUrl,
	}, calls[0].Args)

	// same url and options come from the cache
	_, err = ex.Formats(context.Background(), videoUrl, opts, 1)
	require.NoError(t, err)
	assert.Len(t, runner.Calls(), 1)

	// different options miss it
	_, err = ex.Formats(context.Background(), videoUrl, Options{}, 1)
	require.NoError(t, err)
	assert.Len(t, runner.Calls(), 2)
}

func TestExtractPlaylistUsesFirstEntry(t *testing.T) {
	runner := NewMockRunner()
	runner.Respond(videoUrl, MockResponse{Stdout: []byte(`{"_type":"playlist","entries":[null,{"id":"first","title":"First"},{"id":"second"}]}`)})
	ex, _ := newExtractor(t, runner)

	summary, err := ex.Probe(context.Background(), videoUrl, Options{}, false)
	require.NoError(t, err)
	assert.Equal(t, "first", summary.Id)
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name    string
		resp    MockResponse
		kind    types.ToolErrorKind
		message string
	}{
		{
			name:    "yt-dlp error",
			resp:    MockResponse{Stderr: []byte("WARNING: x\nERROR: [youtube] dQw4w9WgXcQ: Video unavailable\n"), Err: errors.New("exit status 1")},
			kind:    types.KindUpstreamError,
			message: "[youtube] dQw4w9WgXcQ: Video unavailable",
		},
		{
			name:    "no stderr",
			resp:    MockResponse{Err: errors.New("exit status 2")},
			kind:    types.KindUpstreamError,
			message: "exit status 2",
		},
		{
			name:    "garbage output",
			resp:    MockResponse{Stdout: []byte("not json")},
			kind:    types.KindUpstreamError,
			message: "failed to parse yt-dlp output",
		},
		{
			name: "timeout",
			resp: MockResponse{Err: context.DeadlineExceeded},
			kind: types.KindUpstreamTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := NewMockRunner()
			runner.Respond(videoUrl, tt.resp)
			ex, _ := newExtractor(t, runner)

			_, err := ex.Probe(context.Background(), videoUrl, Options{}, false)
			var toolErr *types.ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.Equal(t, tt.kind, toolErr.Kind)
			assert.Equal(t, Upstream, toolErr.Upstream)
			if tt.message != "" {
				assert.Equal(t, tt.message, toolErr.Message)
			}
		})
	}
}

func TestMalformedURLNeverRunsYtDlp(t *testing.T) {
	runner := NewMockRunner()
	ex, _ := newExtractor(t, runner)

	_, err := ex.Probe(context.Background(), "::not-a-url::", Options{}, false)
	var toolErr *types.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, types.KindInvalidInput, toolErr.Kind)
	assert.Empty(t, runner.Calls())
}

func TestDownloadSubs(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path == "/missing.vtt" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, "WEBVTT\n\n00:00.000 --> 00:01.000\nhello\n")
	}))
	t.Cleanup(srv.Close)

	info := fmt.Sprintf(`{"id":"v","http_headers":{"User-Agent":"Video-UA"},"subtitles":{"en":[{"ext":"vtt","url":"%s/en.vtt"}],"de":[{"ext":"vtt","url":"%s/missing.vtt"}]}}`, srv.URL, srv.URL)
	runner := NewMockRunner()
	runner.Respond(videoUrl, MockResponse{Stdout: []byte(info)})
	ex, _ := newExtractor(t, runner)

	link, err := ex.DownloadSubs(context.Background(), videoUrl, Options{}, SubRequest{Lang: "en", LinkOnly: true})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/en.vtt", link.DownloadUrl)
	assert.Nil(t, link.Content)
	assert.Nil(t, link.Format)
	assert.Equal(t, "Video-UA", link.HttpHeaders["User-Agent"])

	sub, err := ex.DownloadSubs(context.Background(), videoUrl, Options{}, SubRequest{Lang: "en", Format: "vtt"})
	require.NoError(t, err)
	require.NotNil(t, sub.Content)
	assert.Contains(t, *sub.Content, "WEBVTT")
	assert.Equal(t, "vtt", *sub.Format)
	assert.Equal(t, "Video-UA", gotUA)

	_, err = ex.DownloadSubs(context.Background(), videoUrl, Options{}, SubRequest{Lang: "de"})
	var toolErr *types.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, http.StatusNotFound, toolErr.Status)

	_, err = ex.DownloadSubs(context.Background(), videoUrl, Options{}, SubRequest{Lang: "ja"})
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "subtitle not found: ja", toolErr.Message)
}

func TestAudioStream(t *testing.T) {
	runner := NewMockRunner()
	runner.Respond(videoUrl, MockResponse{Stdout: videoJSON(t)})
	ex, _ := newExtractor(t, runner)

	stream, err := ex.AudioStream(context.Background(), videoUrl, Options{})
	require.NoError(t, err)
	assert.Equal(t, "251", stream.FormatId)
}

func TestVersion(t *testing.T) {
	runner := NewMockRunner()
	runner.Respond("--version", MockResponse{Stdout: []byte("2025.01.15\n")})
	ex, _ := newExtractor(t, runner)

	v, err := ex.Version(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v.Version)
	assert.Equal(t, "2025.01.15", *v.Version)

	broken := NewMockRunner()
	broken.Default = MockResponse{Err: errors.New("executable file not found in $PATH")}
	ex, _ = newExtractor(t, broken)
	v, err = ex.Version(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v.Version)
}

func TestOptionsFromMap(t *testing.T) {
	opts := OptionsFromMap(map[string]any{
		"cookies_name": " yt ",
		"proxy":        "http://proxy",
		"timeout":      12.0,
		"referer":      42.0,
	})
	assert.Equal(t, Options{CookiesName: "yt", Proxy: "http://proxy", Timeout: 12}, opts)
}
