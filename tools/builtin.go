package tools

import (
	"context"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/mjytdlp/mjytdlp/asr"
	"github.com/mjytdlp/mjytdlp/settings"
	"github.com/mjytdlp/mjytdlp/translate"
	"github.com/mjytdlp/mjytdlp/types"
	"github.com/mjytdlp/mjytdlp/ytdlp"
)

const DefaultCallTimeout = 120 * time.Second

type Translator interface {
	Translate(ctx context.Context, req *translate.Request) (*translate.Result, error)
	Providers() *settings.ProviderList
}

type Extractor interface {
	Probe(ctx context.Context, rawUrl string, opts ytdlp.Options, full bool) (*ytdlp.Summary, error)
	Formats(ctx context.Context, rawUrl string, opts ytdlp.Options, limit int) (*ytdlp.FormatList, error)
	ListSubs(ctx context.Context, rawUrl string, opts ytdlp.Options, filter ytdlp.SubFilter) (*ytdlp.SubList, error)
	DownloadSubs(ctx context.Context, rawUrl string, opts ytdlp.Options, req ytdlp.SubRequest) (*ytdlp.Subtitle, error)
	Version(ctx context.Context) (*ytdlp.Version, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, rawUrl string, opts ytdlp.Options, req asr.Request) (*asr.Result, error)
}

// Services are the collaborators behind the builtin tools.
type Services struct {
	Translator  Translator
	Extractor   Extractor
	Transcriber Transcriber
}

func optionsSchema() map[string]any {
	return map[string]any{
		"cookies_path": map[string]any{"type": "string", "description": "Path to a cookies.txt file"},
		"cookies_name": map[string]any{"type": "string", "description": "Named cookies profile, e.g. youtube or bilibili"},
		"proxy":        map[string]any{"type": "string", "description": "Proxy URL"},
		"user_agent":   map[string]any{"type": "string", "description": "Custom User-Agent"},
		"referer":      map[string]any{"type": "string", "description": "Custom Referer"},
		"timeout":      map[string]any{"type": "number", "description": "Socket timeout in seconds"},
	}
}

func withOptions() mcptypes.ToolOption {
	return mcptypes.WithObject("options",
		mcptypes.Description("Extraction options"),
		mcptypes.Properties(optionsSchema()),
	)
}

// asInteger narrows number properties to JSON Schema integers.
func asInteger(tool mcptypes.Tool, names ...string) mcptypes.Tool {
	for _, name := range names {
		if prop, ok := tool.InputSchema.Properties[name].(map[string]any); ok {
			prop["type"] = "integer"
		}
	}
	return tool
}

// Builtin returns the tools served by the gateway. callTimeout bounds every
// tool except transcribe, which runs under the ASR timeout.
func Builtin(svc Services, callTimeout time.Duration) []*Tool {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	h := &handlers{svc: svc}

	entry := func(tool mcptypes.Tool, handler func(context.Context, mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error), timeout time.Duration) *Tool {
		t := &Tool{Timeout: timeout}
		t.Tool = tool
		t.Handler = handler
		return t
	}

	return []*Tool{
		entry(mcptypes.NewTool("translate",
			mcptypes.WithDescription("Translate text with a configured provider."),
			mcptypes.WithString("text", mcptypes.Required(), mcptypes.Description("Text to translate")),
			mcptypes.WithString("targetLang", mcptypes.Description("Target language, e.g. zh or en")),
			mcptypes.WithString("target", mcptypes.Description("Alias of targetLang")),
			mcptypes.WithString("sourceLang", mcptypes.Description("Source language")),
			mcptypes.WithString("source", mcptypes.Description("Alias of sourceLang")),
			mcptypes.WithString("provider", mcptypes.Description("Provider id")),
			mcptypes.WithString("model", mcptypes.Description("Model override")),
			mcptypes.WithNumber("temperature", mcptypes.Description("Sampling temperature")),
		), h.translate, callTimeout),

		entry(mcptypes.NewTool("list_providers",
			mcptypes.WithDescription("List configured translation providers without their keys."),
		), h.listProviders, callTimeout),

		entry(mcptypes.NewTool("probe",
			mcptypes.WithDescription("Fetch video metadata without downloading."),
			mcptypes.WithString("url", mcptypes.Required(), mcptypes.Description("Video page URL")),
			mcptypes.WithBoolean("full", mcptypes.Description("Return the extended field set")),
			withOptions(),
		), h.probe, callTimeout),

		entry(asInteger(mcptypes.NewTool("formats",
			mcptypes.WithDescription("List available formats with direct links."),
			mcptypes.WithString("url", mcptypes.Required(), mcptypes.Description("Video page URL")),
			mcptypes.WithNumber("limit", mcptypes.Description("Maximum number of formats")),
			withOptions(),
		), "limit"), h.formats, callTimeout),

		entry(mcptypes.NewTool("list_subs",
			mcptypes.WithDescription("List subtitle tracks with direct links."),
			mcptypes.WithString("url", mcptypes.Required(), mcptypes.Description("Video page URL")),
			mcptypes.WithArray("langs", mcptypes.Description("Only these languages"), mcptypes.Items(map[string]any{"type": "string"})),
			mcptypes.WithBoolean("include_auto", mcptypes.Description("Include automatic captions")),
			mcptypes.WithBoolean("include_manual", mcptypes.Description("Include manual subtitles")),
			withOptions(),
		), h.listSubs, callTimeout),

		entry(mcptypes.NewTool("download_subs",
			mcptypes.WithDescription("Return subtitle text or its direct link."),
			mcptypes.WithString("url", mcptypes.Required(), mcptypes.Description("Video page URL")),
			mcptypes.WithString("lang", mcptypes.Required(), mcptypes.Description("Language, e.g. zh or en")),
			mcptypes.WithString("format", mcptypes.Description("Subtitle format, e.g. vtt or srt")),
			mcptypes.WithBoolean("auto", mcptypes.Description("Use automatic captions")),
			mcptypes.WithBoolean("link_only", mcptypes.Description("Return the link only")),
			withOptions(),
		), h.downloadSubs, callTimeout),

		entry(asInteger(mcptypes.NewTool("transcribe",
			mcptypes.WithDescription("Transcribe the audio track through the ASR service."),
			mcptypes.WithString("url", mcptypes.Required(), mcptypes.Description("Video page URL")),
			mcptypes.WithString("output", mcptypes.Description("srt, vtt, txt or json")),
			mcptypes.WithString("language", mcptypes.Description("Language code")),
			mcptypes.WithString("task", mcptypes.Description("transcribe or translate")),
			mcptypes.WithString("initial_prompt", mcptypes.Description("Initial prompt")),
			mcptypes.WithBoolean("encode", mcptypes.Description("Re-encode audio before recognition")),
			mcptypes.WithNumber("timeout", mcptypes.Description("Timeout in seconds")),
			mcptypes.WithNumber("max_mb", mcptypes.Description("Maximum audio size in MB")),
			withOptions(),
		), "timeout", "max_mb"), h.transcribe, 0),

		entry(mcptypes.NewTool("version",
			mcptypes.WithDescription("Report the yt-dlp version."),
		), h.version, callTimeout),
	}
}

type handlers struct {
	svc Services
}

func (h *handlers) translate(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	args := arguments(request.GetArguments())

	req := &translate.Request{
		Text:       args.str("text"),
		TargetLang: args.first("targetLang", "target"),
		SourceLang: args.first("sourceLang", "source"),
		Provider:   args.str("provider"),
		Model:      args.str("model"),
	}
	if req.TargetLang == "" {
		return nil, &ValidationError{Tool: "translate", Field: "targetLang", Message: "is required"}
	}
	if t, ok := args.num("temperature"); ok {
		req.Temperature = &t
	}

	result, err := h.svc.Translator.Translate(ctx, req)
	if err != nil {
		return nil, err
	}
	return types.GetTextResponse(result.Text), nil
}

func (h *handlers) listProviders(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	return types.GetJsonResponse(h.svc.Translator.Providers())
}

func (h *handlers) probe(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	args := arguments(request.GetArguments())
	result, err := h.svc.Extractor.Probe(ctx, args.str("url"), args.options(), args.boolOr("full", false))
	if err != nil {
		return nil, err
	}
	return types.GetJsonResponse(result)
}

func (h *handlers) formats(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	args := arguments(request.GetArguments())
	limit := 0
	if l, ok := args.num("limit"); ok && l > 0 {
		limit = int(l)
	}
	result, err := h.svc.Extractor.Formats(ctx, args.str("url"), args.options(), limit)
	if err != nil {
		return nil, err
	}
	return types.GetJsonResponse(result)
}

func (h *handlers) listSubs(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	args := arguments(request.GetArguments())
	filter := ytdlp.SubFilter{
		Langs:         args.strings("langs"),
		IncludeAuto:   args.boolOr("include_auto", true),
		IncludeManual: args.boolOr("include_manual", true),
	}
	result, err := h.svc.Extractor.ListSubs(ctx, args.str("url"), args.options(), filter)
	if err != nil {
		return nil, err
	}
	return types.GetJsonResponse(result)
}

func (h *handlers) downloadSubs(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	args := arguments(request.GetArguments())
	lang := args.str("lang")
	if lang == "" {
		return nil, types.NewInvalidInput("missing lang")
	}
	req := ytdlp.SubRequest{
		Lang:     lang,
		Format:   args.str("format"),
		Auto:     args.optBool("auto"),
		LinkOnly: args.boolOr("link_only", false),
	}
	result, err := h.svc.Extractor.DownloadSubs(ctx, args.str("url"), args.options(), req)
	if err != nil {
		return nil, err
	}
	return types.GetJsonResponse(result)
}

func (h *handlers) transcribe(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	args := arguments(request.GetArguments())
	req := asr.Request{
		Output:        args.str("output"),
		Language:      args.str("language"),
		Task:          args.str("task"),
		InitialPrompt: args.str("initial_prompt"),
		Encode:        args.boolOr("encode", true),
	}
	if t, ok := args.num("timeout"); ok && t > 0 {
		req.Timeout = time.Duration(t) * time.Second
	}
	if mb, ok := args.num("max_mb"); ok && mb > 0 {
		req.MaxMB = int(mb)
	}
	result, err := h.svc.Transcriber.Transcribe(ctx, args.str("url"), args.options(), req)
	if err != nil {
		return nil, err
	}
	return types.GetJsonResponse(result)
}

func (h *handlers) version(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	result, err := h.svc.Extractor.Version(ctx)
	if err != nil {
		return nil, err
	}
	return types.GetJsonResponse(result)
}

// arguments reads validated tool arguments. Values of the wrong type read as
// absent.
type arguments map[string]any

func (a arguments) str(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

func (a arguments) first(keys ...string) string {
	for _, key := range keys {
		if s := a.str(key); s != "" {
			return s
		}
	}
	return ""
}

func (a arguments) num(key string) (float64, bool) {
	f, ok := a[key].(float64)
	return f, ok
}

func (a arguments) boolOr(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

func (a arguments) optBool(key string) *bool {
	if b, ok := a[key].(bool); ok {
		return &b
	}
	return nil
}

func (a arguments) strings(key string) []string {
	raw, ok := a[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func (a arguments) options() ytdlp.Options {
	raw, _ := a["options"].(map[string]any)
	return ytdlp.OptionsFromMap(raw)
}
