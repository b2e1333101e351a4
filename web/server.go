// Package web serves statistics, exports and the admin endpoints over HTTP.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dice-recorder/recorder"
	"dice-recorder/report"
)

// Store is everything the handlers need from the session table.
type Store interface {
	Get(ctx context.Context, id string) (recorder.Session, bool, error)
	DeleteOne(ctx context.Context, id string) (bool, error)
	DeleteRange(ctx context.Context, start, end string) (int64, error)
}

// Trigger runs one ingestion cycle on demand. *recorder.Runner implements it.
type Trigger interface {
	RunCycle(ctx context.Context) recorder.CycleResult
}

var errBadRequest = errors.New("bad request")

type Server struct {
	store    Store
	reporter *report.Reporter
	trigger  Trigger
	gatherer prometheus.Gatherer
	log      *slog.Logger
	now      func() time.Time
	lifetime context.Context
}

type Option func(*Server)

// WithMetrics exposes gatherer at /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = gatherer }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.log = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLifetime bounds manual cycles by ctx instead of the request, so
// cancelling ctx on shutdown aborts a cycle waiting between attempts.
func WithLifetime(ctx context.Context) Option {
	return func(s *Server) { s.lifetime = ctx }
}

func NewServer(store Store, reporter *report.Reporter, trigger Trigger, opts ...Option) *Server {
	s := &Server{
		store:    store,
		reporter: reporter,
		trigger:  trigger,
		now:      time.Now,
		lifetime: context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /api/stats", s.stats)
	mux.HandleFunc("GET /api/data", s.stats)
	mux.HandleFunc("GET /export/txt", s.exportFull(report.FormatText))
	mux.HandleFunc("GET /export/json", s.exportFull(report.FormatJSON))
	mux.HandleFunc("GET /export/continuous-txt", s.exportChunks(report.FormatText))
	mux.HandleFunc("GET /export/continuous-json", s.exportChunks(report.FormatJSON))
	mux.HandleFunc("GET /api/sessions/{id}", s.lookup)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteOne)
	mux.HandleFunc("DELETE /api/sessions", s.deleteRange)
	if s.trigger != nil {
		mux.HandleFunc("POST /api/fetch", s.fetch)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s.logRequests(mux)
}

// health reports process liveness only; it never touches the store or upstream.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.reporter.Statistics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) exportFull(f report.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := s.reporter.WriteFull(r.Context(), &buf, f); err != nil {
			s.fail(w, r, err)
			return
		}
		attach(w, f.ContentType(), report.Filename(f, s.now()), buf.Bytes())
	}
}

func (s *Server) exportChunks(f report.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := s.reporter.WriteChunkArchive(r.Context(), &buf, f); err != nil {
			s.fail(w, r, err)
			return
		}
		attach(w, "application/zip", report.ArchiveFilename(f, s.now()), buf.Bytes())
	}
}

func attach(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type sessionDetail struct {
	report.SessionView
	Raw       string    `json:"raw"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	row, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: %s", recorder.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{SessionView: report.View(row), Raw: row.Raw, CreatedAt: row.CreatedAt.UTC()})
}

type deleteResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) deleteOne(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	ok, err := s.store.DeleteOne(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: %s", recorder.ErrNotFound, id))
		return
	}
	s.log.Info("session deleted", "id", id)
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: 1})
}

func (s *Server) deleteRange(w http.ResponseWriter, r *http.Request) {
	start := strings.TrimSpace(r.URL.Query().Get("start"))
	end := strings.TrimSpace(r.URL.Query().Get("end"))
	if start == "" || end == "" {
		s.fail(w, r, fmt.Errorf("%w: start and end are required", errBadRequest))
		return
	}
	n, err := s.store.DeleteRange(r.Context(), start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("session range deleted", "start", start, "end", end, "deleted", n)
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: n})
}

// fetch runs a cycle and answers when it is done. The cycle is detached from
// the request so a disconnecting client does not abort ingestion, but it
// still ends with the server lifetime.
func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	res := s.trigger.RunCycle(ctx)
	status := http.StatusOK
	if res.State != recorder.CycleSuccess {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, report.ErrNoData), errors.Is(err, recorder.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, recorder.ErrInvalidRange), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
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
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start))
	})
}
