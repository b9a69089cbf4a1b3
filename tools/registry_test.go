package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjytdlp/mjytdlp/asr"
	"github.com/mjytdlp/mjytdlp/metrics"
	"github.com/mjytdlp/mjytdlp/settings"
	"github.com/mjytdlp/mjytdlp/translate"
	"github.com/mjytdlp/mjytdlp/types"
	"github.com/mjytdlp/mjytdlp/ytdlp"
)

type fakeTranslator struct {
	mu    sync.Mutex
	calls []*translate.Request
	err   error
}

func (f *fakeTranslator) Translate(ctx context.Context, req *translate.Request) (*translate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &translate.Result{Text: "[" + req.TargetLang + "] " + req.Text, Provider: "p", Model: "m"}, nil
}

func (f *fakeTranslator) Providers() *settings.ProviderList {
	return &settings.ProviderList{Providers: []settings.ProviderSummary{}}
}

type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	lastOpts ytdlp.Options
	filter   ytdlp.SubFilter
	limit    int
}

func (f *fakeExtractor) record(opts ytdlp.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastOpts = opts
}

func (f *fakeExtractor) Probe(ctx context.Context, rawUrl string, opts ytdlp.Options, full bool) (*ytdlp.Summary, error) {
	f.record(opts)
	if _, err := ytdlp.ValidateURL(rawUrl); err != nil {
		return nil, err
	}
	return &ytdlp.Summary{Id: "abc", Title: "A & B"}, nil
}

func (f *fakeExtractor) Formats(ctx context.Context, rawUrl string, opts ytdlp.Options, limit int) (*ytdlp.FormatList, error) {
	f.record(opts)
	f.limit = limit
	return &ytdlp.FormatList{}, nil
}

func (f *fakeExtractor) ListSubs(ctx context.Context, rawUrl string, opts ytdlp.Options, filter ytdlp.SubFilter) (*ytdlp.SubList, error) {
	f.record(opts)
	f.filter = filter
	return &ytdlp.SubList{Subtitles: []*ytdlp.SubTrack{}}, nil
}

func (f *fakeExtractor) DownloadSubs(ctx context.Context, rawUrl string, opts ytdlp.Options, req ytdlp.SubRequest) (*ytdlp.Subtitle, error) {
	f.record(opts)
	return &ytdlp.Subtitle{Lang: req.Lang, IsAuto: req.Auto != nil && *req.Auto}, nil
}

func (f *fakeExtractor) Version(ctx context.Context) (*ytdlp.Version, error) {
	v := "2025.01.01"
	return &ytdlp.Version{Version: &v}, nil
}

type fakeTranscriber struct {
	req asr.Request
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, rawUrl string, opts ytdlp.Options, req asr.Request) (*asr.Result, error) {
	f.req = req
	return &asr.Result{Output: "srt", Content: "1\n00:00:00,000 --> 00:00:01,000\nhi\n"}, nil
}

type fixture struct {
	registry    *Registry
	translator  *fakeTranslator
	extractor   *fakeExtractor
	transcriber *fakeTranscriber
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		translator:  &fakeTranslator{},
		extractor:   &fakeExtractor{},
		transcriber: &fakeTranscriber{},
	}
	registry, err := NewRegistry(metrics.New(), Builtin(Services{
		Translator:  f.translator,
		Extractor:   f.extractor,
		Transcriber: f.transcriber,
	}, time.Second)...)
	require.NoError(t, err)
	f.registry = registry
	return f
}

func resultText(t *testing.T, res *mcptypes.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcptypes.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestList(t *testing.T) {
	f := newFixture(t)

	var names []string
	for _, tool := range f.registry.List() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"translate", "list_providers", "probe", "formats", "list_subs", "download_subs", "transcribe", "version"}, names)

	tools := f.registry.List()
	data, err := json.Marshal(tools[3])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"limit":{"description":"Maximum number of formats","type":"integer"}`)
	assert.Contains(t, string(data), `"required":["url"]`)
}

func TestUnknownTool(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Execute(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		args  map[string]any
		field string
	}{
		{"missing url", "probe", map[string]any{}, "url"},
		{"null url", "probe", map[string]any{"url": nil}, "url"},
		{"url not a string", "probe", map[string]any{"url": 5.0}, "url"},
		{"full not a boolean", "probe", map[string]any{"url": "https://x.test/v", "full": "yes"}, "full"},
		{"fractional limit", "formats", map[string]any{"url": "https://x.test/v", "limit": 2.5}, "limit"},
		{"langs item type", "list_subs", map[string]any{"url": "https://x.test/v", "langs": []any{"en", 3.0}}, "langs[1]"},
		{"nested option type", "probe", map[string]any{"url": "https://x.test/v", "options": map[string]any{"proxy": true}}, "options.proxy"},
		{"missing lang", "download_subs", map[string]any{"url": "https://x.test/v"}, "lang"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.registry.Execute(context.Background(), tt.tool, tt.args)
			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.Equal(t, tt.field, validationErr.Field)
			assert.Equal(t, 0, f.extractor.calls)
		})
	}
}

func TestTranslate(t *testing.T) {
	f := newFixture(t)

	res, err := f.registry.Execute(context.Background(), "translate", map[string]any{
		"text":        "hello",
		"target":      "zh",
		"source":      "en",
		"temperature": 0.0,
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "[zh] hello", resultText(t, res))

	require.Len(t, f.translator.calls, 1)
	req := f.translator.calls[0]
	assert.Equal(t, "en", req.SourceLang)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.0, *req.Temperature)

	_, err = f.registry.Execute(context.Background(), "translate", map[string]any{"text": "hello"})
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "targetLang", validationErr.Field)
	assert.Len(t, f.translator.calls, 1)
}

func TestToolErrorBecomesResult(t *testing.T) {
	f := newFixture(t)
	f.translator.err = types.NewUpstreamError("provider:openai", 401, "bad key")

	res, err := f.registry.Execute(context.Background(), "translate", map[string]any{"text": "a", "targetLang": "en"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: [upstream_error] provider:openai (401): bad key", resultText(t, res))

	res, err = f.registry.Execute(context.Background(), "probe", map[string]any{"url": "not a url"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(resultText(t, res), "Error: [invalid_input] malformed url"))
}

func TestUnexpectedErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.translator.err = errors.New("boom")
	_, err := f.registry.Execute(context.Background(), "translate", map[string]any{"text": "a", "targetLang": "en"})
	assert.EqualError(t, err, "boom")
}

func TestTimeout(t *testing.T) {
	slow := &Tool{Timeout: 20 * time.Millisecond}
	slow.Tool = mcptypes.NewTool("slow")
	slow.Handler = func(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	registry, err := NewRegistry(nil, slow)
	require.NoError(t, err)

	res, err := registry.Execute(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: [upstream_timeout] slow: request timed out", resultText(t, res))
}

func TestDuplicateTool(t *testing.T) {
	tool := &Tool{}
	tool.Tool = mcptypes.NewTool("dup")
	tool.Handler = func(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
		return nil, nil
	}
	_, err := NewRegistry(nil, tool, tool)
	assert.Error(t, err)
}

func TestListSubsDefaults(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Execute(context.Background(), "list_subs", map[string]any{
		"url":     "https://x.test/v",
		"langs":   []any{"en", " zh "},
		"options": map[string]any{"cookies_name": "youtube", "timeout": 5.0},
	})
	require.NoError(t, err)
	assert.True(t, f.extractor.filter.IncludeAuto)
	assert.True(t, f.extractor.filter.IncludeManual)
	assert.Equal(t, []string{"en", "zh"}, f.extractor.filter.Langs)
	assert.Equal(t, "youtube", f.extractor.lastOpts.CookiesName)
	assert.Equal(t, 5.0, f.extractor.lastOpts.Timeout)

	_, err = f.registry.Execute(context.Background(), "list_subs", map[string]any{"url": "https://x.test/v", "include_auto": false})
	require.NoError(t, err)
	assert.False(t, f.extractor.filter.IncludeAuto)
}

func TestTranscribeArguments(t *testing.T) {
	f := newFixture(t)
	res, err := f.registry.Execute(context.Background(), "transcribe", map[string]any{
		"url":     "https://x.test/v",
		"timeout": 30.0,
		"max_mb":  50.0,
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.True(t, f.transcriber.req.Encode)
	assert.Equal(t, 30*time.Second, f.transcriber.req.Timeout)
	assert.Equal(t, 50, f.transcriber.req.MaxMB)

	var out asr.Result
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, "srt", out.Output)
}

func TestJsonResultKeepsAmpersand(t *testing.T) {
	f := newFixture(t)
	res, err := f.registry.Execute(context.Background(), "probe", map[string]any{"url": "https://x.test/v"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"title":"A & B"`)
}

func TestFormatsLimit(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Execute(context.Background(), "formats", map[string]any{"url": "https://x.test/v", "limit": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 3, f.extractor.limit)
}

func TestProbeWithRealExtractor(t *testing.T) {
	runner := ytdlp.NewMockRunner()
	extractor := ytdlp.NewExtractor(runner, nil, nil, ytdlp.Config{})
	registry, err := NewRegistry(nil, Builtin(Services{
		Translator:  &fakeTranslator{},
		Extractor:   extractor,
		Transcriber: &fakeTranscriber{},
	}, time.Second)...)
	require.NoError(t, err)

	res, err := registry.Execute(context.Background(), "probe", map[string]any{"url": "ftp://nowhere"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, runner.Calls())
}
