package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/execgw/internal/acceptor"
	"github.com/mattjoyce/execgw/internal/dispatch"
	"github.com/mattjoyce/execgw/internal/log"
)

// Submitter defines the dispatcher operation the router depends on.
type Submitter interface {
	Submit(task dispatch.Task) bool
}

// Router turns acceptor callbacks into dispatcher tasks. Matched requests
// are served by the application mux; everything else gets DefaultResponse.
type Router struct {
	dispatcher Submitter
	mux        *chi.Mux
	logger     *slog.Logger
}

// New creates a Router that submits work to d.
func New(d Submitter, logger *slog.Logger) *Router {
	if logger == nil {
		logger = log.WithComponent("router")
	}
	r := &Router{
		dispatcher: d,
		mux:        chi.NewRouter(),
		logger:     logger,
	}
	r.mux.NotFound(r.serveUnmatched)
	r.mux.MethodNotAllowed(r.serveUnmatched)
	return r
}

// Mux returns the route table the application registers on.
func (r *Router) Mux() chi.Router {
	return r.mux
}

// HandleRequest hands the request to the dispatcher and returns at once.
// If the dispatcher is no longer admitting work the session is left
// unanswered.
func (r *Router) HandleRequest(req *http.Request, sess acceptor.Session) {
	r.dispatcher.Submit(r.task(req, sess))
}

// OnUnmatchedRoute answers sess with the default response for req.
func (r *Router) OnUnmatchedRoute(req *http.Request, sess acceptor.Session) error {
	return sess.SendResponse(DefaultResponse(req.Method))
}

// DefaultResponse is the answer for a request no route matched:
// 405 for POST, 400 for anything else, always with an empty body.
func DefaultResponse(method string) *acceptor.Response {
	if method == http.MethodPost {
		return acceptor.Empty(http.StatusMethodNotAllowed)
	}
	return acceptor.Empty(http.StatusBadRequest)
}

// task captures exactly one request and its session.
func (r *Router) task(req *http.Request, sess acceptor.Session) dispatch.Task {
	return func() dispatch.Result {
		ctx := context.WithValue(req.Context(), middleware.RequestIDKey, sess.ID())
		rec := newRecorder()
		r.mux.ServeHTTP(rec, req.WithContext(ctx))

		err := sess.SendResponse(rec.response())
		switch {
		case err == nil:
			return dispatch.Done()
		case errors.Is(err, acceptor.ErrResponseSent):
			return dispatch.Skipped("response already sent").With("request_id", sess.ID())
		case errors.Is(err, acceptor.ErrSessionClosed):
			return dispatch.Skipped("session closed").With("request_id", sess.ID())
		default:
			return dispatch.Failed(err).With(
				"request_id", sess.ID(),
				"method", req.Method,
				"path", req.URL.Path,
				"remote_addr", sess.RemoteAddr(),
			)
		}
	}
}

func (r *Router) serveUnmatched(w http.ResponseWriter, req *http.Request) {
	resp := DefaultResponse(req.Method)
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(resp.Status)
}
