package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kokukuma/eudiw-verifier/internal/logfields"
	"github.com/kokukuma/eudiw-verifier/openid4vp"
	"github.com/kokukuma/eudiw-verifier/validator"
)

// DefaultMaxCallbackBody caps wallet callback bodies.
const DefaultMaxCallbackBody = 4 << 20

type Server struct {
	sessions  *Sessions
	builder   *openid4vp.Builder
	validator *validator.Validator
	metrics   *Metrics
	logger    *zap.Logger

	maxCallbackBody int64
	now             func() time.Time
}

type Option func(*Server)

func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithMaxCallbackBody(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxCallbackBody = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func NewServer(sessions *Sessions, builder *openid4vp.Builder, v *validator.Validator, opts ...Option) *Server {
	s := &Server{
		sessions:        sessions,
		builder:         builder,
		validator:       v,
		logger:          zap.NewNop(),
		maxCallbackBody: DefaultMaxCallbackBody,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/initiate", s.Initiate).Methods("POST", "OPTIONS")
	r.HandleFunc("/request/{sessionId}", s.RequestJWT).Methods("GET", "OPTIONS")
	r.HandleFunc("/callback/{sessionId}", s.Callback).Methods("POST", "OPTIONS")
	r.HandleFunc("/result/{sessionId}", s.Result).Methods("GET", "OPTIONS")
	r.HandleFunc("/done/{sessionId}", s.Done).Methods("GET")
	r.HandleFunc("/health", s.Health).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			logfields.WithMethod(r.Method),
			logfields.WithPath(r.URL.Path),
			logfields.WithStatus(rec.status),
			logfields.WithDuration(s.now().Sub(start)),
		)
	})
}

func parseJSON(r *http.Request, v interface{}) error {
	if r == nil || r.Body == nil {
		return errors.New("no request given")
	}

	defer r.Body.Close()
	defer io.Copy(io.Discard, r.Body)

	return json.NewDecoder(r.Body).Decode(v)
}

func jsonResponse(w http.ResponseWriter, d interface{}, c int) {
	dj, err := json.Marshal(d)
	if err != nil {
		http.Error(w, "Error creating JSON response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(c)
	fmt.Fprintf(w, "%s", dj)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func jsonErrorResponse(w http.ResponseWriter, e error, c int) {
	jsonResponse(w, ErrorResponse{Error: e.Error()}, c)
}

// sessionStatus maps a store error to the response code for it.
func sessionStatus(err error) int {
	if errors.Is(err, ErrSessionExpired) {
		return http.StatusGone
	}
	return http.StatusNotFound
}
