package acceptor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

var (
	// ErrResponseSent is returned when a session is answered twice.
	ErrResponseSent = errors.New("response already sent")
	// ErrSessionClosed is returned when the connection went away before the
	// response could be written.
	ErrSessionClosed = errors.New("session closed")
)

// Session writes exactly one response back to the connection a request
// arrived on. It must not be shared between concurrent writers.
type Session interface {
	// ID is a unique identifier for the request this session answers.
	ID() string
	// RemoteAddr is the client address.
	RemoteAddr() string
	// SendResponse writes resp. Only the first call writes.
	SendResponse(resp *Response) error
}

type session struct {
	id   string
	conn *serverConn
	req  *http.Request

	// closeAfter makes the connection close once the response is written.
	closeAfter bool

	sent     atomic.Bool
	writeErr error
	done     chan struct{}
}

func newSession(id string, conn *serverConn, req *http.Request) *session {
	return &session{
		id:         id,
		conn:       conn,
		req:        req,
		closeAfter: req.Close || !req.ProtoAtLeast(1, 1),
		done:       make(chan struct{}),
	}
}

func (s *session) ID() string { return s.id }

func (s *session) RemoteAddr() string { return s.conn.remoteAddr }

func (s *session) SendResponse(resp *Response) error {
	if resp == nil {
		return fmt.Errorf("send response: nil response")
	}
	if !s.sent.CompareAndSwap(false, true) {
		return ErrResponseSent
	}
	defer close(s.done)

	if s.conn.closed.Load() {
		s.writeErr = ErrSessionClosed
		return ErrSessionClosed
	}
	if err := s.conn.write(s.req, resp, s.closeAfter); err != nil {
		s.writeErr = err
		if s.conn.closed.Load() {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}

// encodeResponse writes resp in HTTP/1.1 wire format.
func encodeResponse(w io.Writer, req *http.Request, resp *Response, closeAfter bool) error {
	header := resp.Header
	if header == nil {
		header = make(http.Header)
	}
	if header.Get("Date") == "" {
		header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	hr := &http.Response{
		StatusCode:    resp.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		ContentLength: int64(len(resp.Body)),
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		Close:         closeAfter,
		Request:       req,
	}
	return hr.Write(w)
}
