package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	webhttp "github.com/mjytdlp/mjytdlp/backends/web/http"
	"github.com/mjytdlp/mjytdlp/settings"
	"github.com/mjytdlp/mjytdlp/types"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultTemperature = 0.2

	chatCompletionsSuffix = "/chat/completions"
)

type Request struct {
	Text        string
	TargetLang  string
	SourceLang  string
	Provider    string
	Model       string
	Temperature *float64
}

type Result struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator struct {
	settings       *settings.Store
	defaultTimeout time.Duration
}

func New(store *settings.Store, defaultTimeout time.Duration) *Translator {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Translator{
		settings:       store,
		defaultTimeout: defaultTimeout,
	}
}

func (t *Translator) Providers() *settings.ProviderList {
	return t.settings.Load().List()
}

func (t *Translator) Translate(ctx context.Context, req *Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, types.NewInvalidInput("missing text to translate")
	}
	if strings.TrimSpace(req.TargetLang) == "" {
		return nil, types.NewInvalidInput("missing target language")
	}

	provider, err := t.settings.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = provider.Model
	}
	if model == "" {
		return nil, types.NewNotConfigured("provider " + provider.Id + " has no model")
	}

	baseUrl := BaseURL(provider)
	if baseUrl == "" {
		return nil, types.NewNotConfigured("provider " + provider.Id + " has no endpoint_url or base_url")
	}

	client, err := t.newClient(provider, baseUrl)
	if err != nil {
		return nil, err
	}

	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	upstream := "provider:" + provider.Id
	logger := log.WithFields(log.Fields{
		"provider": provider.Id,
		"model":    model,
	})
	logger.Debug("Sending translation request")

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(req.SourceLang, req.TargetLang)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
		Temperature: openaiTemperature(temperature),
		Stream:      false,
	})
	if err != nil {
		logger.WithError(err).Warning("Translation request failed")
		return nil, classify(upstream, err)
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	if text == "" {
		// keep whatever the provider sent so the caller can see it
		raw, _ := json.Marshal(resp)
		text = string(raw)
	}

	return &Result{
		Text:     text,
		Provider: provider.Id,
		Model:    model,
	}, nil
}

func (t *Translator) newClient(provider *settings.Provider, baseUrl string) (*openai.Client, error) {
	timeout := t.defaultTimeout
	if provider.Timeout > 0 {
		timeout = time.Duration(provider.Timeout * float64(time.Second))
	}

	conf := &webhttp.Config{
		Name:     "provider:" + provider.Id,
		Timeout:  timeout,
		XHeaders: provider.ExtraHeaders,
	}
	if key := provider.ResolvedApiKey(); key != "" && provider.AuthHeader != "" {
		conf.AuthToken = key
		conf.AuthHeader = provider.AuthHeader
		conf.AuthPrefix = provider.AuthPrefix
	}

	httpClient, err := webhttp.NewClient(conf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build client for provider %s", provider.Id)
	}

	// auth is injected by the transport
	openaiConf := openai.DefaultConfig("")
	openaiConf.BaseURL = baseUrl
	openaiConf.HTTPClient = httpClient
	return openai.NewClientWithConfig(openaiConf), nil
}

// BaseURL derives the go-openai base URL from a provider. An explicit
// endpoint_url is the full chat completions URL.
func BaseURL(p *settings.Provider) string {
	if endpoint := strings.TrimSpace(p.EndpointUrl); endpoint != "" {
		return strings.TrimSuffix(strings.TrimRight(endpoint, "/"), chatCompletionsSuffix)
	}
	base := strings.TrimRight(strings.TrimSpace(p.BaseUrl), "/")
	if base == "" {
		return ""
	}
	return base + "/v1"
}

func SystemPrompt(source, target string) string {
	if source = strings.TrimSpace(source); source != "" {
		return fmt.Sprintf("Translate the following text from %s to %s. Return only the translated text.", source, target)
	}
	return fmt.Sprintf("Translate the following text to %s. Return only the translated text.", target)
}

// go-openai drops a zero temperature from the payload.
func openaiTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func classify(upstream string, err error) error {
	if types.IsTimeout(err) {
		return types.NewUpstreamTimeout(upstream, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return types.NewUpstreamError(upstream, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.HTTPStatus
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return types.NewUpstreamError(upstream, reqErr.HTTPStatusCode, msg)
	}
	return types.WrapUpstream(upstream, err)
}
