package utils

import (
	"github.com/cockroachdb/errors"
	"github.com/yosida95/uritemplate/v3"
)

// EndpointTemplate is a compiled RFC 6570 template for per-session endpoints,
// e.g. "/mcp/messages/{sessionId}".
type EndpointTemplate struct {
	tmpl *uritemplate.Template
}

func NewEndpointTemplate(raw string) (*EndpointTemplate, error) {
	tmpl, err := uritemplate.New(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid endpoint template %q", raw)
	}
	return &EndpointTemplate{tmpl: tmpl}, nil
}

func (e *EndpointTemplate) Expand(vars map[string]string) (string, error) {
	values := uritemplate.Values{}
	for k, v := range vars {
		values.Set(k, uritemplate.String(v))
	}
	return e.tmpl.Expand(values)
}

// Match extracts the string variables of uri, nil when uri does not match.
func (e *EndpointTemplate) Match(uri string) map[string]string {
	matched := e.tmpl.Match(uri)
	if matched == nil {
		return nil
	}
	out := make(map[string]string, len(matched))
	for k, v := range matched {
		if v.T == uritemplate.ValueTypeString {
			out[k] = v.String()
		}
	}
	return out
}

func (e *EndpointTemplate) Raw() string {
	return e.tmpl.Raw()
}

func (e *EndpointTemplate) Varnames() []string {
	return e.tmpl.Varnames()
}
