package http

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	nativehttp "net/http"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"

	"github.com/mjytdlp/mjytdlp/types"
	"github.com/mjytdlp/mjytdlp/utils"
)

const (
	DefaultAuthHeader = "Authorization"
	DefaultAuthPrefix = "Bearer "
	DefaultUserAgent  = "MJYT-DLP"
)

// NewClient builds the client for one upstream. Authorization goes through
// an oauth2 static token source when it is a standard scheme header, custom
// auth headers and extra headers are injected by headerTransport.
func NewClient(conf *Config) (*nativehttp.Client, error) {
	if conf == nil {
		conf = &Config{}
	}

	base, err := baseTransport(conf)
	if err != nil {
		return nil, err
	}

	headers := nativehttp.Header{}
	forced := nativehttp.Header{}
	userAgent := conf.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	headers.Set("User-Agent", userAgent)
	for k, v := range conf.XHeaders {
		headers.Set(k, v)
	}

	var tr nativehttp.RoundTripper = base
	if conf.AuthToken != "" {
		authHeader := conf.AuthHeader
		if authHeader == "" {
			authHeader = DefaultAuthHeader
		}
		authPrefix := conf.AuthPrefix
		if conf.AuthHeader == "" && authPrefix == "" {
			authPrefix = DefaultAuthPrefix
		}

		scheme := strings.TrimSpace(authPrefix)
		if nativehttp.CanonicalHeaderKey(authHeader) == DefaultAuthHeader && scheme != "" && !strings.Contains(scheme, " ") {
			tr = &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{
					AccessToken: conf.AuthToken,
					TokenType:   scheme,
				}),
				Base: base,
			}
		} else {
			forced.Set(authHeader, authPrefix+conf.AuthToken)
		}
	}

	return &nativehttp.Client{
		Transport: &headerTransport{defaults: headers, forced: forced, base: tr},
		Timeout:   conf.Timeout,
	}, nil
}

func baseTransport(conf *Config) (*nativehttp.Transport, error) {
	if conf.MTls == nil {
		return TransportPool.GetOrCreate("default", func() (*nativehttp.Transport, error) {
			return nativehttp.DefaultTransport.(*nativehttp.Transport).Clone(), nil
		})
	}

	key := utils.SecureKey(conf.MTls.CertFile, conf.MTls.KeyFile, conf.MTls.RootCAFile)
	return TransportPool.GetOrCreate(key, func() (*nativehttp.Transport, error) {
		cert, err := tls.LoadX509KeyPair(conf.MTls.CertFile, conf.MTls.KeyFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load client certificate for %s", conf.Name)
		}

		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
		if conf.MTls.RootCAFile != "" {
			caCert, err := os.ReadFile(conf.MTls.RootCAFile)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read root CA for %s", conf.Name)
			}
			caCertPool := x509.NewCertPool()
			caCertPool.AppendCertsFromPEM(caCert)
			tlsConfig.RootCAs = caCertPool
		}

		tr := nativehttp.DefaultTransport.(*nativehttp.Transport).Clone()
		tr.TLSClientConfig = tlsConfig
		return tr, nil
	})
}

// headerTransport fills in defaults the request did not set itself and
// always overwrites forced headers (custom auth).
type headerTransport struct {
	defaults nativehttp.Header
	forced   nativehttp.Header
	base     nativehttp.RoundTripper
}

func (t *headerTransport) RoundTrip(req *nativehttp.Request) (*nativehttp.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.defaults {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
	for k, v := range t.forced {
		req.Header[k] = v
	}
	return t.base.RoundTrip(req)
}

// CheckResponse turns a non-2xx upstream response into a ToolError carrying
// the status and the start of the body.
func CheckResponse(upstream string, resp *nativehttp.Response) error {
	if resp.StatusCode >= nativehttp.StatusOK && resp.StatusCode < nativehttp.StatusMultipleChoices {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, types.MaxUpstreamBody*2))
	return types.NewUpstreamError(upstream, resp.StatusCode, string(body))
}
