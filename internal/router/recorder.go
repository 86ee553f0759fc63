package router

import (
	"bytes"
	"net/http"

	"github.com/mattjoyce/execgw/internal/acceptor"
)

// recorder buffers what a handler writes so it can be sent through a
// session in one piece after the handler returns.
type recorder struct {
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(p)
}

func (r *recorder) response() *acceptor.Response {
	status := r.status
	if !r.wroteHeader {
		status = http.StatusOK
	}
	return &acceptor.Response{
		Status: status,
		Header: r.header,
		Body:   r.body.Bytes(),
	}
}
