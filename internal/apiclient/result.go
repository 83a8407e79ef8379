package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
)

var ErrNotJSON = errors.New("response is not JSON")

// Result is a successful (2xx) response. JSON responses are fully read into
// Body. Any other content type is handed back in Raw with the body still
// open; the caller must close it.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       json.RawMessage
	Raw        *http.Response
}

// IsRaw reports whether the response was passed through undecoded.
func (r *Result) IsRaw() bool { return r.Raw != nil }

// Decode unmarshals a JSON body into v. An empty body leaves v untouched.
func (r *Result) Decode(v any) error {
	if r.Raw != nil {
		return ErrNotJSON
	}
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Close releases a raw response body. It is a no-op for JSON results.
func (r *Result) Close() error {
	if r.Raw == nil {
		return nil
	}
	return r.Raw.Body.Close()
}

func isJSON(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// cancelOnClose ties a per-attempt context to the lifetime of a raw body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
