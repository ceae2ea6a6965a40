package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/iaasstore/restmailer/message"
	"github.com/iaasstore/restmailer/storage"
	"github.com/iaasstore/restmailer/tracker"
)

// Sender is the slice of the mail pipeline the API hands accepted messages
// to: deliver now on the caller's goroutine, or queue for background
// delivery.
type Sender interface {
	Deliver(ctx context.Context, msg message.Message) bool
	Dispatch(msg message.Message)
}

// Server holds everything the HTTP handlers need. Build it with NewServer.
type Server struct {
	conf     Config
	defaults message.Defaults
	sender   Sender
	tracker  *tracker.Tracker
	docs     interface{}
}

// NewServer assembles the HTTP layer from a validated Config.
func NewServer(conf Config, defaults message.Defaults, sender Sender, tr *tracker.Tracker) *Server {
	if len(conf.AuthTokens) == 0 {
		log.Warn().Msg("auth tokens are not configured, API working in not secure mode")
	}

	s := &Server{
		conf:     conf,
		defaults: defaults,
		sender:   sender,
		tracker:  tr,
	}
	if conf.DocsEnabled {
		s.docs = buildDocs(conf)
	}
	return s
}

// Routes assembles the HTTP surface. Anything outside it answers with the
// same plain-text 404.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(metricsMiddleware)
	r.Use(maxBodyMiddleware(int64(s.conf.MaxBody)))

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	r.Get("/", s.handleRoot)
	if s.conf.DocsEnabled {
		r.Get("/docs", s.handleDocs)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/message", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/{guid}", s.handleStatus)
		r.Post("/send", s.handleSend)
		r.Post("/async-send", s.handleAsyncSend)
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "restmailer is serving requests")
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusNotFound, "Method not found")
}

func (s *Server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.docs)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")

	rec, err := s.tracker.Get(guid)
	if errors.Is(err, storage.ErrNotFound) {
		writeText(w, http.StatusNotFound, fmt.Sprintf("Task with guid %v not found", guid))
		return
	}
	if err != nil {
		log.Error().Err(err).Str("guid", guid).Msg("can't read a delivery record")
		writeText(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.accept(w, r)
	if !ok {
		return
	}

	// The delivery outlives the request: a client hanging up must not abort
	// an SMTP transaction halfway.
	sent := s.sender.Deliver(context.Background(), msg)

	status := http.StatusOK
	if !sent {
		status = http.StatusTeapot
	}
	s.respondWithRecord(w, status, msg.GUID)
}

func (s *Server) handleAsyncSend(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.accept(w, r)
	if !ok {
		return
	}

	s.sender.Dispatch(msg)
	s.respondWithRecord(w, http.StatusOK, msg.GUID)
}

// accept parses, validates and records an incoming message. When it returns
// false the response has already been written.
func (s *Server) accept(w http.ResponseWriter, r *http.Request) (message.Message, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusBadRequest,
				fmt.Sprintf("Max body is reached: >%v", tooLarge.Limit))
			return message.Message{}, false
		}
		writeText(w, http.StatusBadRequest, "can't read the request body")
		return message.Message{}, false
	}

	var msg message.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  fmt.Sprintf("request body is not valid json: %v", err),
			Fields: []string{""},
		})
		return message.Message{}, false
	}

	// The GUID is ours to assign; whatever the client sent is discarded.
	msg.GUID = message.NewGUID()
	msg.ApplyDefaults(s.defaults)

	if err := msg.Validate(); err != nil {
		var verr *message.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:  verr.Error(),
				Fields: verr.Fields,
			})
		} else {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:  err.Error(),
				Fields: []string{""},
			})
		}
		return message.Message{}, false
	}

	s.tracker.Start(msg)
	s.tracker.Log(msg.GUID, "api", fmt.Sprintf(
		"received data-count=%v text-length=%v target=%v subject=%v",
		len(msg.Data), msg.TextLength(), msg.AddressTo, msg.Subject))

	return msg, true
}

// respondWithRecord dumps the current state of a delivery record.
func (s *Server) respondWithRecord(w http.ResponseWriter, status int, guid string) {
	rec, err := s.tracker.Get(guid)
	if err != nil {
		log.Error().Err(err).Str("guid", guid).Msg("can't read a delivery record")
		writeText(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, status, rec)
}
