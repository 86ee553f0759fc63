package entity

import (
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/execgw/internal/log"
	"github.com/mattjoyce/execgw/internal/storage"
)

// Service serves the entity API on top of a Store.
type Service struct {
	store  storage.Store
	logger *slog.Logger
}

// New creates a Service.
func New(store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = log.WithComponent("entity")
	}
	return &Service{store: store, logger: logger}
}

// Register mounts middleware and routes on r.
func (s *Service) Register(r chi.Router) {
	r.Use(middleware.RequestLogger(&requestLogFormatter{logger: s.logger}))
	r.Use(middleware.Recoverer)

	r.Get("/v0/status", s.handleStatus)
	r.Get("/v0/entity", s.handleGet)
	r.Put("/v0/entity", s.handlePut)
	r.Delete("/v0/entity", s.handleDelete)
}

// ETag returns the strong entity tag for value.
func ETag(value []byte) string {
	sum := blake3.Sum256(value)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondEmpty(w, http.StatusOK)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}

	value, err := s.store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondEmpty(w, http.StatusNotFound)
		return
	}
	if err != nil {
		s.storeError(w, r, "get", id, err)
		return
	}

	etag := ETag(value)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		respondEmpty(w, http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func (s *Service) handlePut(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}

	value, err := io.ReadAll(r.Body)
	if err != nil {
		respondEmpty(w, http.StatusBadRequest)
		return
	}

	if err := s.store.Put(r.Context(), id, value); err != nil {
		s.storeError(w, r, "put", id, err)
		return
	}

	w.Header().Set("ETag", ETag(value))
	respondEmpty(w, http.StatusCreated)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		s.storeError(w, r, "delete", id, err)
		return
	}
	respondEmpty(w, http.StatusAccepted)
}

func (s *Service) storeError(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	s.logger.Error("entity store failed",
		"op", op,
		"id", id,
		"error", err,
		"request_id", middleware.GetReqID(r.Context()),
	)
	respondEmpty(w, http.StatusServiceUnavailable)
}

// entityID extracts the id query parameter, answering 400 when it is missing.
func entityID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		respondEmpty(w, http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func respondEmpty(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}
