package acceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mattjoyce/execgw/internal/log"
)

// Handler receives every parsed request. HandleRequest must not block on
// request processing; it answers later through sess.
type Handler interface {
	HandleRequest(req *http.Request, sess Session)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *http.Request, sess Session)

func (f HandlerFunc) HandleRequest(req *http.Request, sess Session) { f(req, sess) }

// Config holds listener settings.
type Config struct {
	Host         string
	Port         int
	ReusePort    bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxBodySize caps request bodies; 0 means unlimited.
	MaxBodySize int64
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Acceptor owns the listener and the per-connection reader goroutines.
type Acceptor struct {
	config  Config
	handler Handler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[*serverConn]struct{}

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	stopErr  error
	failed   chan error
}

// New creates an Acceptor. It does not listen until Start.
func New(config Config, handler Handler, logger *slog.Logger) (*Acceptor, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = log.WithComponent("acceptor")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		config:  config,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*serverConn]struct{}),
		stopCh:  make(chan struct{}),
		failed:  make(chan error, 1),
	}, nil
}

// Start binds the listener and begins accepting connections.
func (a *Acceptor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-a.stopCh:
		return errors.New("acceptor stopped")
	default:
	}
	if a.listener != nil {
		return errors.New("acceptor already started")
	}

	ln, err := listen(a.ctx, a.config.Address(), a.config.ReusePort)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.config.Address(), err)
	}
	a.listener = ln

	a.wg.Add(1)
	go a.acceptLoop(ln)

	a.logger.Info("acceptor listening", "addr", ln.Addr().String(), "reuse_port", a.config.ReusePort)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Failed receives an error if the accept loop exits without Stop.
func (a *Acceptor) Failed() <-chan error {
	return a.failed
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to exit. Safe to call more than once.
func (a *Acceptor) Stop() error {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.cancel()

		a.mu.Lock()
		if a.listener != nil {
			if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				a.stopErr = fmt.Errorf("close listener: %w", err)
			}
		}
		open := len(a.conns)
		for c := range a.conns {
			c.close()
		}
		a.mu.Unlock()

		a.logger.Info("acceptor stopping", "open_connections", open)
	})
	a.wg.Wait()
	return a.stopErr
}

func (a *Acceptor) acceptLoop(ln net.Listener) {
	defer a.wg.Done()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-a.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				a.failed <- fmt.Errorf("listener closed: %w", err)
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			a.logger.Warn("accept error", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		c := &serverConn{acceptor: a, conn: conn, remoteAddr: conn.RemoteAddr().String()}
		if !a.track(c) {
			_ = conn.Close()
			return
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.untrack(c)
			c.serve(a.ctx)
		}()
	}
}

func (a *Acceptor) track(c *serverConn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.stopCh:
		return false
	default:
	}
	a.conns[c] = struct{}{}
	return true
}

func (a *Acceptor) untrack(c *serverConn) {
	a.mu.Lock()
	delete(a.conns, c)
	a.mu.Unlock()
}
