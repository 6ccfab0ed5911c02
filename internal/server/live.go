package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"availtrack/internal/history"
	"availtrack/internal/metrics"
	"availtrack/internal/models"
)

const (
	livePushInterval = 60 * time.Second
	liveWriteTimeout = 5 * time.Second
	maxLiveWindow    = 30 * 24 * time.Hour
)

var liveUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

type liveSnapshot struct {
	ResourceID  string                     `json:"resource_id"`
	GeneratedAt time.Time                  `json:"generated_at"`
	RangeStart  time.Time                  `json:"range_start"`
	RangeEnd    time.Time                  `json:"range_end"`
	Current     models.AvailabilityType    `json:"current"`
	Points      []models.AvailabilityPoint `json:"points"`
}

type liveRequest struct {
	resourceID string
	window     time.Duration
	points     int
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	req := liveRequest{
		resourceID: mux.Vars(r)["id"],
		window:     parseWindowDuration(r),
		points:     parseInt(r, "points", history.DefaultTimelinePoints),
	}
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.WebSocketConnectionsActive.Inc()
	defer metrics.WebSocketConnectionsActive.Dec()
	s.serveLiveConnection(r.Context(), conn, req)
}

func (s *Server) serveLiveConnection(ctx context.Context, conn *websocket.Conn, req liveRequest) {
	defer conn.Close()

	if err := s.pushLive(ctx, conn, req); err != nil {
		return
	}

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := s.pushLive(ctx, conn, req); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) pushLive(ctx context.Context, conn *websocket.Conn, req liveRequest) error {
	snapshot, err := s.buildLiveSnapshot(ctx, req)
	if err != nil {
		s.log.Warn("live snapshot failed", zap.String("resource", req.resourceID), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot failed"),
			time.Now().Add(liveWriteTimeout))
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(snapshot)
}

func (s *Server) buildLiveSnapshot(ctx context.Context, req liveRequest) (liveSnapshot, error) {
	now := s.now()
	start := now.Add(-req.window)
	points, err := s.queries.Sample(ctx, req.resourceID, start, now, req.points, true)
	if err != nil {
		return liveSnapshot{}, err
	}
	current := models.Unknown
	if n := len(points); n > 0 && points[n-1].Known {
		current = points[n-1].Type
	}
	return liveSnapshot{
		ResourceID:  req.resourceID,
		GeneratedAt: now,
		RangeStart:  start,
		RangeEnd:    now,
		Current:     current,
		Points:      points,
	}, nil
}

// parseWindowDuration reads the "window" query parameter as a Go duration,
// falling back to 24h and capping at 30 days.
func parseWindowDuration(r *http.Request) time.Duration {
	raw := strings.TrimSpace(r.URL.Query().Get("window"))
	if raw == "" {
		return defaultWindow
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		return defaultWindow
	}
	if window > maxLiveWindow {
		return maxLiveWindow
	}
	return window
}
