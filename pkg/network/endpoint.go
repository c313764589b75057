package network

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/tendant/phone-login/pkg/errors"
)

var defaultHeader = map[string]string{
	"Content-Type": "application/json",
}

// Endpoint describes one typed API call. The zero Parse decodes JSON into T.
type Endpoint[T any] struct {
	Method        string
	Path          string
	Configuration Configuration
	Query         url.Values
	Body          []byte
	Header        map[string]string
	Token         *Token
	Parse         func(data []byte) (T, error)
}

// NewEndpoint creates an endpoint with the JSON response parser.
func NewEndpoint[T any](method, path string, cfg Configuration) Endpoint[T] {
	return Endpoint[T]{
		Method:        method,
		Path:          path,
		Configuration: cfg,
		Parse:         DecodeJSON[T],
	}
}

// WithToken returns a copy of e that carries a bearer token.
func (e Endpoint[T]) WithToken(token Token) Endpoint[T] {
	e.Token = &token
	return e
}

// WithJSONBody returns a copy of e with v marshalled as body.
func (e Endpoint[T]) WithJSONBody(v any) (Endpoint[T], error) {
	data, err := json.Marshal(v)
	if err != nil {
		return e, apperrors.Wrap(err, apperrors.ErrCodeInvalidEndpoint, "failed to encode request body")
	}
	e.Body = data
	return e, nil
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// URL resolves the path against the configured base URL. Query items are
// sorted by name.
func (e Endpoint[T]) URL() (*url.URL, error) {
	base, err := url.Parse(e.Configuration.baseURL())
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidEndpoint, "baseURL: %s, path: %s", e.Configuration.baseURL(), e.Path)
	}
	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + e.Path
	u.RawPath = ""
	u.RawQuery = ""
	if len(e.Query) > 0 {
		// Encode sorts by key
		u.RawQuery = e.Query.Encode()
	}
	return &u, nil
}

// Request builds the HTTP request. Custom headers win over the defaults and
// a token sets the bearer Authorization header last.
func (e Endpoint[T]) Request(ctx context.Context) (*http.Request, error) {
	u, err := e.URL()
	if err != nil {
		return nil, err
	}

	var body *bytes.Reader
	if hasBody(e.Method) && e.Body != nil {
		body = bytes.NewReader(e.Body)
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, e.Method, u.String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, e.Method, u.String(), nil)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidEndpoint, "failed to build request")
	}

	for name, value := range e.Headers() {
		req.Header.Set(name, value)
	}
	if e.Token != nil {
		req.Header.Set("Authorization", "Bearer "+e.Token.Value)
	}
	return req, nil
}

// Headers returns the default headers merged with the custom ones.
func (e Endpoint[T]) Headers() map[string]string {
	merged := make(map[string]string, len(defaultHeader)+len(e.Header))
	for name, value := range defaultHeader {
		merged[name] = value
	}
	for name, value := range e.Header {
		merged[name] = value
	}
	return merged
}

func (e Endpoint[T]) parse(data []byte) (T, error) {
	if e.Parse == nil {
		return DecodeJSON[T](data)
	}
	return e.Parse(data)
}

// DecodeJSON decodes data into a T.
func DecodeJSON[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, apperrors.Wrap(err, apperrors.ErrCodeDecodeFailed, "failed to decode response")
	}
	return v, nil
}

// IgnoreBody accepts any response body.
func IgnoreBody(_ []byte) (NoContent, error) {
	return NoContent{}, nil
}

// DecodeOptionalAppUser decodes an app user. An empty body, undecodable
// data or a record without id or secret yield nil without error.
func DecodeOptionalAppUser(data []byte) (*AppUser, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var u AppUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, nil
	}
	if !u.IsValid() {
		return nil, nil
	}
	return &u, nil
}
