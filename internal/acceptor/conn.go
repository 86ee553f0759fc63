package acceptor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var errBodyTooLarge = errors.New("request body too large")

// maxDrainBytes is how much of an oversized body is discarded before the
// connection is closed.
const maxDrainBytes = 256 << 10

// serverConn is one accepted connection.
type serverConn struct {
	acceptor   *Acceptor
	conn       net.Conn
	remoteAddr string
	closed     atomic.Bool
}

func (c *serverConn) close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
}

func (c *serverConn) write(req *http.Request, resp *Response, closeAfter bool) error {
	if d := c.acceptor.config.WriteTimeout; d > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return err
		}
	}
	bw := bufio.NewWriter(c.conn)
	if err := encodeResponse(bw, req, resp, closeAfter); err != nil {
		return err
	}
	return bw.Flush()
}

// serve reads requests one at a time and waits for each to be answered.
func (c *serverConn) serve(ctx context.Context) {
	a := c.acceptor
	defer c.close()

	br := bufio.NewReader(c.conn)
	for {
		if err := c.awaitRequest(br); err != nil {
			return
		}

		req, err := http.ReadRequest(br)
		if err != nil {
			if !isDisconnect(err) {
				a.logger.Debug("malformed request", "remote_addr", c.remoteAddr, "error", err)
				_ = c.write(nil, Empty(http.StatusBadRequest), true)
			}
			return
		}

		body, err := readBody(req.Body, a.config.MaxBodySize)
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				_ = c.write(req, Empty(http.StatusRequestEntityTooLarge), true)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Time{})

		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		req.RemoteAddr = c.remoteAddr
		// Admitted work outlives the connection: Stop closes sockets, it
		// does not cancel requests a handler already owns.
		req = req.WithContext(context.WithoutCancel(ctx))

		sess := newSession(uuid.NewString(), c, req)
		a.handler.HandleRequest(req, sess)

		select {
		case <-sess.done:
		case <-a.stopCh:
			return
		}
		if sess.closeAfter || sess.writeErr != nil {
			return
		}
	}
}

// awaitRequest waits up to IdleTimeout for the first byte of the next
// request, then arms ReadTimeout for the rest of it.
func (c *serverConn) awaitRequest(br *bufio.Reader) error {
	cfg := c.acceptor.config
	if cfg.IdleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout)); err != nil {
			return err
		}
	}
	if _, err := br.Peek(1); err != nil {
		return err
	}
	if cfg.ReadTimeout > 0 {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
	return c.conn.SetReadDeadline(time.Time{})
}

// readBody reads the whole body so handlers get an immutable request.
func readBody(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil || body == http.NoBody {
		return nil, nil
	}
	defer body.Close()

	r := io.Reader(body)
	if limit > 0 {
		r = io.LimitReader(body, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		// Drain a bounded amount so the 413 is not lost to a reset.
		_, _ = io.CopyN(io.Discard, body, maxDrainBytes)
		return nil, errBodyTooLarge
	}
	return data, nil
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}
