package http

import "time"

type TlsConfig struct {
	CertFile   string `json:"certFile" koanf:"certFile"`
	KeyFile    string `json:"keyFile" koanf:"keyFile"`
	RootCAFile string `json:"rootCAFile" koanf:"rootCAFile"`
}

// Config describes one outbound upstream: a translation provider or the ASR
// service. Name identifies it in errors and logs.
type Config struct {
	Name       string            `json:"name"`
	Timeout    time.Duration     `json:"timeout"`
	MTls       *TlsConfig        `json:"mTLS,omitempty"`
	AuthToken  string            `json:"authToken,omitempty"`
	AuthHeader string            `json:"authHeader,omitempty"`
	AuthPrefix string            `json:"authPrefix,omitempty"`
	XHeaders   map[string]string `json:"xHeaders,omitempty"`
	UserAgent  string            `json:"userAgent,omitempty"`
}
