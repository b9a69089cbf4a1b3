package asr

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	webhttp "github.com/mjytdlp/mjytdlp/backends/web/http"
	"github.com/mjytdlp/mjytdlp/types"
	"github.com/mjytdlp/mjytdlp/utils"
	"github.com/mjytdlp/mjytdlp/ytdlp"
)

const (
	DefaultTimeout = 600 * time.Second
	DefaultOutput  = "srt"
	DefaultTask    = "transcribe"

	Upstream      = "asr"
	AudioUpstream = "audio"

	formField = "audio_file"
)

var errTooLarge = errors.New("audio exceeds size limit")

type Config struct {
	Url        string
	ApiKey     string
	AuthHeader string
	AuthPrefix string
	Timeout    time.Duration
	MTls       *webhttp.TlsConfig
}

type Request struct {
	Output        string
	Language      string
	Task          string
	InitialPrompt string
	Encode        bool
	Timeout       time.Duration
	MaxMB         int
}

type Result struct {
	Output  string `json:"output"`
	Content string `json:"content"`
}

// AudioSource finds the direct audio link for a page url.
type AudioSource interface {
	AudioStream(ctx context.Context, rawUrl string, opts ytdlp.Options) (*ytdlp.AudioStream, error)
}

// Client streams audio from its origin straight into the ASR service,
// nothing touches the disk.
type Client struct {
	conf  Config
	audio AudioSource
}

func New(conf Config, audio AudioSource) *Client {
	conf.Url = strings.TrimRight(strings.TrimSpace(conf.Url), "/")
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	if conf.AuthPrefix == "" {
		conf.AuthPrefix = webhttp.DefaultAuthPrefix
	}
	return &Client{conf: conf, audio: audio}
}

func (c *Client) Configured() bool {
	return c.conf.Url != ""
}

func (c *Client) Transcribe(ctx context.Context, rawUrl string, opts ytdlp.Options, req Request) (*Result, error) {
	if !c.Configured() {
		return nil, types.NewNotConfigured("ASR is not configured, set MJYTDLP_ASR_URL")
	}
	if req.Output == "" {
		req.Output = DefaultOutput
	}
	if req.Task == "" {
		req.Task = DefaultTask
	}
	timeout := c.conf.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := c.audio.AudioStream(ctx, rawUrl, opts)
	if err != nil {
		return nil, err
	}

	audioResp, err := c.openAudio(ctx, stream, req.MaxMB)
	if err != nil {
		return nil, err
	}
	defer audioResp.Body.Close()

	var maxBytes int64
	if req.MaxMB > 0 {
		maxBytes = int64(req.MaxMB) << 20
	}
	body := io.Reader(audioResp.Body)
	if maxBytes > 0 {
		body = &limitedReader{r: audioResp.Body, remaining: maxBytes}
	}

	ext, _ := stream.Ext.(string)
	filename := "audio.audio"
	if ext != "" {
		filename = "audio." + ext
	}

	content, err := c.post(ctx, req, filename, body)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, types.NewInvalidInput(fmt.Sprintf("audio exceeds the size limit (>%dMB)", req.MaxMB))
		}
		return nil, err
	}

	return &Result{Output: req.Output, Content: content}, nil
}

func (c *Client) openAudio(ctx context.Context, stream *ytdlp.AudioStream, maxMB int) (*http.Response, error) {
	client, err := webhttp.NewClient(&webhttp.Config{Name: AudioUpstream})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, stream.DownloadUrl, nil)
	if err != nil {
		return nil, types.NewUpstreamError(AudioUpstream, 0, "invalid audio url")
	}
	for k, v := range stream.HttpHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, types.WrapUpstream(AudioUpstream, err)
	}
	if err := webhttp.CheckResponse(AudioUpstream, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if maxMB > 0 && resp.ContentLength > int64(maxMB)<<20 {
		resp.Body.Close()
		return nil, types.NewInvalidInput(fmt.Sprintf("audio exceeds the size limit (>%dMB)", maxMB))
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, req Request, filename string, audio io.Reader) (string, error) {
	client, err := webhttp.NewClient(&webhttp.Config{
		Name:       Upstream,
		MTls:       c.conf.MTls,
		AuthToken:  strings.TrimSpace(c.conf.ApiKey),
		AuthHeader: strings.TrimSpace(c.conf.AuthHeader),
		AuthPrefix: c.conf.AuthPrefix,
	})
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("output", req.Output)
	query.Set("task", req.Task)
	query.Set("encode", strconv.FormatBool(req.Encode))
	if req.Language != "" {
		query.Set("language", req.Language)
	}
	if req.InitialPrompt != "" {
		query.Set("initial_prompt", req.InitialPrompt)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	copyErr := make(chan error, 1)
	go func() {
		err := writeMultipart(mw, filename, audio)
		pw.CloseWithError(err)
		copyErr <- err
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.Url+"/asr?"+query.Encode(), pr)
	if err != nil {
		pr.Close()
		<-copyErr
		return "", errors.Wrap(err, "failed to build ASR request")
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	log.WithFields(log.Fields{
		"output": req.Output,
		"task":   req.Task,
	}).Debug("Streaming audio to ASR")

	resp, err := client.Do(httpReq)
	// the writer stops once the pipe is closed, so this never blocks for long
	pr.Close()
	streamErr := <-copyErr
	if errors.Is(streamErr, errTooLarge) {
		if resp != nil {
			resp.Body.Close()
		}
		return "", streamErr
	}
	if err != nil {
		return "", types.WrapUpstream(Upstream, err)
	}
	defer resp.Body.Close()

	if err := webhttp.CheckResponse(Upstream, resp); err != nil {
		return "", err
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.WrapUpstream(Upstream, err)
	}
	return string(content), nil
}

func writeMultipart(mw *multipart.Writer, filename string, audio io.Reader) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, formField, filename))
	header.Set("Content-Type", utils.DetectMime(filename, nil, "application/octet-stream"))
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return err
	}
	return mw.Close()
}

// limitedReader fails with errTooLarge instead of truncating.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}
