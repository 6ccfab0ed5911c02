package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"availtrack/internal/availability"
	"availtrack/internal/group"
	"availtrack/internal/history"
	"availtrack/internal/inventory"
	"availtrack/internal/models"
)

const (
	defaultWindow  = 24 * time.Hour
	maxReportBytes = 4 << 20
)

// Engine is the write side of the availability subsystem.
type Engine interface {
	MergeAvailabilityReport(ctx context.Context, report models.Report) (models.MergeResult, error)
	CurrentInterval(ctx context.Context, resourceID string) (models.Interval, bool, error)
	Purge(ctx context.Context, olderThan time.Time) (int, error)
	CheckForSuspectAgents(ctx context.Context) (availability.SweepResult, error)
}

// Deps bundles the collaborators the HTTP API serves.
type Deps struct {
	Engine       Engine
	Queries      *history.Querier
	Groups       *group.Aggregator
	Registry     *inventory.Registry
	Logger       *zap.Logger
	PushInterval time.Duration
	Now          func() time.Time
}

// Server wraps HTTP serving of the availability API.
type Server struct {
	httpServer   *http.Server
	engine       Engine
	queries      *history.Querier
	groups       *group.Aggregator
	registry     *inventory.Registry
	log          *zap.Logger
	pushInterval time.Duration
	now          func() time.Time
}

// New creates a configured HTTP server.
func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.PushInterval <= 0 {
		deps.PushInterval = livePushInterval
	}
	s := &Server{
		engine:       deps.Engine,
		queries:      deps.Queries,
		groups:       deps.Groups,
		registry:     deps.Registry,
		log:          deps.Logger,
		pushInterval: deps.PushInterval,
		now:          deps.Now,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler builds the routed API handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/reports", s.handleReport).Methods(http.MethodPost)
	api.HandleFunc("/agents", s.handleAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents/{agent}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	api.HandleFunc("/resources/{id}/current", s.handleCurrent).Methods(http.MethodGet)
	api.HandleFunc("/resources/{id}/intervals", s.handleIntervals).Methods(http.MethodGet)
	api.HandleFunc("/resources/{id}/sample", s.handleSample).Methods(http.MethodGet)
	api.HandleFunc("/resources/{id}/uptime", s.handleUptime).Methods(http.MethodGet)
	api.HandleFunc("/resources/{id}/live", s.handleLive).Methods(http.MethodGet)
	api.HandleFunc("/groups", s.handleGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups/{group}/intervals", s.handleGroupIntervals).Methods(http.MethodGet)
	api.HandleFunc("/purge", s.handlePurge).Methods(http.MethodPost)
	api.HandleFunc("/sweep", s.handleSweep).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(started)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var report models.Report
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err := dec.Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode report: %w", err))
		return
	}
	if strings.TrimSpace(report.Agent) == "" {
		writeError(w, http.StatusBadRequest, errors.New("report agent is required"))
		return
	}
	result, err := s.engine.MergeAvailabilityReport(r.Context(), report)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Agents())
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	s.registry.Heartbeat(mux.Vars(r)["agent"], s.now())
	w.WriteHeader(http.StatusNoContent)
}

type currentResponse struct {
	ResourceID string                  `json:"resource_id"`
	Type       models.AvailabilityType `json:"type"`
	Interval   *models.Interval        `json:"interval"`
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	current, ok, err := s.engine.CurrentInterval(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := currentResponse{ResourceID: id, Type: models.Unknown}
	if ok {
		resp.Type = current.Type
		resp.Interval = &current
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIntervals(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	intervals, err := s.queries.GetIntervals(r.Context(), mux.Vars(r)["id"], start, end)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intervals)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	points := parseInt(r, "points", history.DefaultTimelinePoints)
	preferCurrent := parseBool(r, "prefer_current")
	samples, err := s.queries.Sample(r.Context(), mux.Vars(r)["id"], start, end, points, preferCurrent)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := s.queries.Uptime(r.Context(), mux.Vars(r)["id"], start, end)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Groups())
}

func (s *Server) handleGroupIntervals(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	intervals, err := s.groups.GroupIntervalsByID(r.Context(), mux.Vars(r)["group"], start, end)
	if errors.Is(err, group.ErrUnknownGroup) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intervals)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than")
	if raw == "" {
		writeError(w, http.StatusBadRequest, errors.New("older_than is required"))
		return
	}
	threshold, err := parseTime(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	deleted, err := s.engine.Purge(r.Context(), threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.CheckForSuspectAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parseWindow reads start/end query parameters, defaulting to the last 24h.
func (s *Server) parseWindow(r *http.Request) (time.Time, time.Time, error) {
	end := s.now()
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = parsed
	}
	start := end.Add(-defaultWindow)
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = parsed
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, history.ErrInvalidRange
	}
	return start, end, nil
}

// parseTime accepts RFC3339 timestamps or unix milliseconds.
func parseTime(raw string) (time.Time, error) {
	if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(millis).UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected RFC3339 or unix milliseconds", raw)
	}
	return parsed.UTC(), nil
}

func parseInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseBool(r *http.Request, key string) bool {
	value, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && value
}

func writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrInvalidRange) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
