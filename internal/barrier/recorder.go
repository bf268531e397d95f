package barrier

import (
	"bytes"
	"net/http"
)

// recorder buffers a handler's response instead of writing it to the
// socket, so the barrier can gate the real flush on invalidation
// completing (§4.D step 1: "captures the payload but does not flush bytes
// to the socket").
type recorder struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), statusCode: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) Write(b []byte) (int, error) { return r.body.Write(b) }

func (r *recorder) WriteHeader(code int) { r.statusCode = code }

// flush copies the buffered response to the real writer.
func (r *recorder) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range r.header {
		dst[k] = v
	}
	w.WriteHeader(r.statusCode)
	_, _ = w.Write(r.body.Bytes())
}
