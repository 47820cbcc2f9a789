package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stride-data/steps.report/internal/db"
	"github.com/stride-data/steps.report/internal/httputil"
	"github.com/stride-data/steps.report/internal/monitoring"
	"github.com/stride-data/steps.report/internal/pedometer"
	"github.com/stride-data/steps.report/internal/timeutil"
	"github.com/stride-data/steps.report/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	store   *db.StepStore
	session *pedometer.Session
}

// NewServer creates the HTTP API over the step store. The session is
// optional; without one the live endpoints report the store only.
func NewServer(store *db.StepStore, session *pedometer.Session) *Server {
	return &Server{
		store:   store,
		session: session,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/steps/total", s.showTotal)
	mux.HandleFunc("/api/steps/records", s.listRecords)
	mux.HandleFunc("/api/steps/stats", s.showStats)
	mux.HandleFunc("/api/steps/today", s.showToday)
	mux.HandleFunc("/api/steps/yesterday", s.showYesterday)
	mux.HandleFunc("/api/steps/import", s.importSteps)
	mux.HandleFunc("/api/steps/watch", s.watchTotal)
	mux.HandleFunc("/api/steps/live", s.showLive)
	mux.HandleFunc("/api/timezones", s.listTimezones)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/charts/daily", s.dailyChart)
	return mux
}

// listTimezones serves the curated day-boundary timezone options for client
// settings pickers.
func (s *Server) listTimezones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	s.writeJSON(w, timeutil.CommonTimezones)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	s.writeJSON(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	httputil.WriteJSONOK(w, v)
}

// parseQuery builds a store query from from/to/source URL parameters.
// Times accept RFC3339 or unix milliseconds.
func parseQuery(r *http.Request) (db.Query, error) {
	var q db.Query
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return q, fmt.Errorf("invalid 'from' parameter: %w", err)
		}
		q.From = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return q, fmt.Errorf("invalid 'to' parameter: %w", err)
		}
		q.To = &t
	}
	if v := r.URL.Query().Get("source"); v != "" {
		src := db.Source(v)
		if !src.IsValid() {
			return q, fmt.Errorf("unknown source %q", v)
		}
		q.Source = &src
	}
	return q, nil
}

func parseTime(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) showTotal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	total, err := s.store.ReadTotal(r.Context(), q)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read total: %v", err))
		return
	}
	s.writeJSON(w, map[string]int64{"total": total})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.store.ReadRecords(r.Context(), q)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read records: %v", err))
		return
	}
	s.writeJSON(w, records)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.store.Stats(r.Context(), q)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to compute stats: %v", err))
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) showToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	total, err := s.store.TodayTotal(r.Context(), time.Now())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read total: %v", err))
		return
	}
	s.writeJSON(w, map[string]int64{"total": total})
}

func (s *Server) showYesterday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	total, err := s.store.YesterdayTotal(r.Context(), time.Now())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read total: %v", err))
		return
	}
	s.writeJSON(w, map[string]int64{"total": total})
}

func (s *Server) showLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.session == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "No active detection session")
		return
	}
	s.writeJSON(w, map[string]any{
		"session": s.session.ID,
		"steps":   s.session.Steps(),
	})
}

type importRequest struct {
	Steps int64  `json:"steps"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// importSteps records externally-sourced step data. It passes through the
// store's normal validation and duplicate rules.
func (s *Server) importSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	from, err := parseTime(req.From)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'from' time: %v", err))
		return
	}
	to, err := parseTime(req.To)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'to' time: %v", err))
		return
	}

	inserted, err := s.store.ImportExternal(r.Context(), req.Steps, from, to)
	if err != nil {
		if errors.Is(err, db.ErrInvalidRecord) {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to import steps: %v", err))
		return
	}
	s.writeJSON(w, map[string]int{"inserted": inserted})
}

// watchTotal streams the live total over server-sent events. The current
// value is delivered immediately, then on every affecting write.
func (s *Server) watchTotal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	watch, err := s.store.WatchTotal(r.Context(), q)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to watch total: %v", err))
		return
	}
	defer s.store.Unwatch(watch.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-r.Context().Done():
			return
		case total := <-watch.C:
			fmt.Fprintf(w, "data: {\"total\": %d}\n\n", total)
			flusher.Flush()
		}
	}
}
