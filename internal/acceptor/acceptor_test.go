package acceptor

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/execgw/internal/log"
)

func startAcceptor(t *testing.T, cfg Config, h Handler) *Acceptor {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	a, err := New(cfg, h, log.Discard())
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Stop() })
	return a
}

func dial(t *testing.T, a *Acceptor) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", a.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// asyncEcho answers from another goroutine with the request body or path.
func asyncEcho() Handler {
	return HandlerFunc(func(req *http.Request, sess Session) {
		go func() {
			body, _ := io.ReadAll(req.Body)
			if len(body) == 0 {
				body = []byte(req.URL.Path)
			}
			resp := NewResponse(http.StatusOK, body)
			resp.Header.Set("X-Session", sess.ID())
			_ = sess.SendResponse(resp)
		}()
	})
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(Config{}, nil, log.Discard())
	assert.Error(t, err)
}

func TestAcceptor_ServesAsyncResponse(t *testing.T) {
	a := startAcceptor(t, Config{}, asyncEcho())

	resp, err := http.Get("http://" + a.Addr().String() + "/hello")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/hello", string(body))
	assert.Equal(t, int64(len("/hello")), resp.ContentLength)
	assert.NotEmpty(t, resp.Header.Get("X-Session"))
}

func TestAcceptor_RequestBodyIsBuffered(t *testing.T) {
	a := startAcceptor(t, Config{MaxBodySize: 1024}, asyncEcho())

	resp, err := http.Post("http://"+a.Addr().String()+"/echo", "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "payload", string(body))
}

func TestAcceptor_KeepAlive(t *testing.T) {
	a := startAcceptor(t, Config{}, asyncEcho())
	conn := dial(t, a)
	br := bufio.NewReader(conn)

	var ids []string
	for i := range 2 {
		_, err := fmt.Fprintf(conn, "GET /r%d HTTP/1.1\r\nHost: test\r\n\r\n", i)
		require.NoError(t, err)

		resp, err := http.ReadResponse(br, nil)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, fmt.Sprintf("/r%d", i), string(body))
		ids = append(ids, resp.Header.Get("X-Session"))
	}
	assert.NotEqual(t, ids[0], ids[1])
}

func TestAcceptor_ConnectionClose(t *testing.T) {
	a := startAcceptor(t, Config{}, asyncEcho())
	conn := dial(t, a)
	br := bufio.NewReader(conn)

	_, err := io.WriteString(conn, "GET /bye HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, resp.Close)

	_, err = br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestAcceptor_BodyTooLarge(t *testing.T) {
	var called atomic.Bool
	a := startAcceptor(t, Config{MaxBodySize: 4}, HandlerFunc(func(req *http.Request, sess Session) {
		called.Store(true)
	}))

	resp, err := http.Post("http://"+a.Addr().String()+"/", "text/plain", strings.NewReader("0123456789"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.False(t, called.Load())
}

func TestAcceptor_MalformedRequest(t *testing.T) {
	a := startAcceptor(t, Config{}, asyncEcho())
	conn := dial(t, a)

	_, err := io.WriteString(conn, "this is not http\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSession_SendTwice(t *testing.T) {
	errs := make(chan error, 1)
	a := startAcceptor(t, Config{}, HandlerFunc(func(req *http.Request, sess Session) {
		go func() {
			_ = sess.SendResponse(Empty(http.StatusNoContent))
			errs <- sess.SendResponse(Empty(http.StatusOK))
		}()
	}))

	resp, err := http.Get("http://" + a.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.ErrorIs(t, <-errs, ErrResponseSent)
}

func TestAcceptor_StopClosesUnansweredConnections(t *testing.T) {
	var mu sync.Mutex
	var held Session
	got := make(chan struct{})

	a := startAcceptor(t, Config{}, HandlerFunc(func(req *http.Request, sess Session) {
		mu.Lock()
		held = sess
		mu.Unlock()
		close(got)
	}))

	conn := dial(t, a)
	_, err := io.WriteString(conn, "GET / HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	require.NoError(t, a.Stop())

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "client should see the connection drop")

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, held.SendResponse(Empty(http.StatusOK)), ErrSessionClosed)
}

func TestAcceptor_StopIsIdempotent(t *testing.T) {
	a, err := New(Config{Host: "127.0.0.1"}, asyncEcho(), log.Discard())
	require.NoError(t, err)

	assert.NoError(t, a.Stop())
	assert.NoError(t, a.Stop())
	assert.Error(t, a.Start())
	assert.Nil(t, a.Addr())
}

func TestAcceptor_IdleTimeoutClosesConnection(t *testing.T) {
	a := startAcceptor(t, Config{IdleTimeout: 50 * time.Millisecond}, asyncEcho())
	conn := dial(t, a)

	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConfig_Address(t *testing.T) {
	assert.Equal(t, ":8080", Config{Port: 8080}.Address())
	assert.Equal(t, "127.0.0.1:19000", Config{Host: "127.0.0.1", Port: 19000}.Address())
}

func TestAcceptor_StopDoesNotCancelHandedOffRequests(t *testing.T) {
	reqs := make(chan *http.Request, 1)
	a := startAcceptor(t, Config{}, HandlerFunc(func(req *http.Request, _ Session) {
		reqs <- req
	}))

	conn := dial(t, a)
	_, err := io.WriteString(conn, "PUT /v0/entity?id=k HTTP/1.1\r\nHost: test\r\nContent-Length: 2\r\n\r\nhi")
	require.NoError(t, err)

	var req *http.Request
	select {
	case req = <-reqs:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	require.NoError(t, a.Stop())
	assert.NoError(t, req.Context().Err())

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))
}
