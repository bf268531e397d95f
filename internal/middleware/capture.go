package middleware

import (
	"bytes"
	"net/http"
)

// capture buffers a handler's response so ReadThrough can inspect the
// status code before deciding whether to cache the body (spec §4.F: "set
// the value" only happens after the handler emits JSON with status 200).
type capture struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
}

func newCapture() *capture {
	return &capture{header: make(http.Header), statusCode: http.StatusOK}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) Write(b []byte) (int, error) { return c.body.Write(b) }

func (c *capture) WriteHeader(code int) { c.statusCode = code }

func (c *capture) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range c.header {
		dst[k] = v
	}
	w.WriteHeader(c.statusCode)
	_, _ = w.Write(c.body.Bytes())
}
