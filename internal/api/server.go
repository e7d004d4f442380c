package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meshfield/meshmap/internal/db"
	"github.com/meshfield/meshmap/internal/geo"
	"github.com/meshfield/meshmap/internal/timeutil"
	"github.com/meshfield/meshmap/internal/wire"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// ClientPolicy is the channel behaviour the daemon hands to field clients
// over /api/config: how long to pause between reconnect attempts and how
// often continuous surveying collects.
type ClientPolicy struct {
	ReconnectDelay  time.Duration
	CollectInterval time.Duration
}

type Server struct {
	db     *db.DB
	clock  timeutil.Clock
	units  string
	policy ClientPolicy
}

func NewServer(database *db.DB, clock timeutil.Clock, units string, policy ClientPolicy) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if units == "" {
		units = "dBm"
	}
	if policy.ReconnectDelay <= 0 {
		policy.ReconnectDelay = 5 * time.Second
	}
	if policy.CollectInterval <= 0 {
		policy.CollectInterval = 15 * time.Second
	}
	return &Server{db: database, clock: clock, units: units, policy: policy}
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
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/nodes", s.listNodes)
	mux.HandleFunc("/api/sessions", s.sessionsCollection)
	mux.HandleFunc("/api/sessions/", s.sessionByID)
	mux.HandleFunc("/api/measurements", s.listMeasurements)
	mux.HandleFunc("/api/telemetry", s.showTelemetry)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// nodeProperties is the GeoJSON properties block for a node feature.
type nodeProperties struct {
	MeshIdentity   string `json:"mesh_identity"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	EstimatedRange int    `json:"estimated_range"`
	IsActive       bool   `json:"is_active"`
	LastSeen       string `json:"last_seen,omitempty"`
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	role := -1
	if roleParam := r.URL.Query().Get("role"); roleParam != "" {
		parsed, err := db.RoleFromName(roleParam)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'role' parameter: %v", err))
			return
		}
		role = parsed
	}
	activeOnly := r.URL.Query().Get("is_active") == "true"

	nodes, err := s.db.ListNodes(role, activeOnly)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve nodes: %v", err))
		return
	}

	features := make([]geo.Feature, 0, len(nodes))
	for _, n := range nodes {
		var geometry *geo.PointGeometry
		if n.Latitude != nil && n.Longitude != nil {
			point := geo.NewPoint(*n.Longitude, *n.Latitude)
			geometry = &point
		}
		props := nodeProperties{
			MeshIdentity:   n.MeshIdentity,
			Name:           n.Name,
			Role:           db.RoleName(n.Role),
			EstimatedRange: n.EstimatedRange,
			IsActive:       n.IsActive,
		}
		if n.LastSeen.Valid {
			props.LastSeen = n.LastSeen.Time.UTC().Format(time.RFC3339)
		}
		feature, err := geo.NewFeature(n.ID, geometry, props)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to encode node")
			return
		}
		features = append(features, feature)
	}

	s.writeJSON(w, geo.NewFeatureCollection(features))
}

type createSessionRequest struct {
	TargetNode int64  `json:"target_node"`
	Notes      string `json:"notes"`
}

type sessionResponse struct {
	ID         string  `json:"id"`
	TargetNode int64   `json:"target_node"`
	StartTime  string  `json:"start_time"`
	EndTime    *string `json:"end_time"`
	IsActive   bool    `json:"is_active"`
	Notes      string  `json:"notes"`
}

func toSessionResponse(s db.Session) sessionResponse {
	resp := sessionResponse{
		ID:         s.ID,
		TargetNode: s.TargetNode,
		StartTime:  s.StartTime.UTC().Format(time.RFC3339),
		IsActive:   s.IsActive(),
		Notes:      s.Notes,
	}
	if s.EndTime != nil {
		end := s.EndTime.UTC().Format(time.RFC3339)
		resp.EndTime = &end
	}
	return resp
}

func (s *Server) sessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var targetNode int64
		if param := r.URL.Query().Get("target_node"); param != "" {
			parsed, err := strconv.ParseInt(param, 10, 64)
			if err != nil {
				s.writeJSONError(w, http.StatusBadRequest, "Invalid 'target_node' parameter")
				return
			}
			targetNode = parsed
		}
		activeOnly := r.URL.Query().Get("is_active") == "true"

		sessions, err := s.db.ListSessions(targetNode, activeOnly)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve sessions: %v", err))
			return
		}
		out := make([]sessionResponse, 0, len(sessions))
		for _, session := range sessions {
			out = append(out, toSessionResponse(session))
		}
		s.writeJSON(w, out)

	case http.MethodPost:
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
		session, err := s.db.CreateSession(req.TargetNode, req.Notes)
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unknown target node %d", req.TargetNode))
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create session: %v", err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toSessionResponse(session))

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) sessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		s.writeJSONError(w, http.StatusNotFound, "Session not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, err := s.db.GetSession(id)
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "Session not found")
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve session: %v", err))
			return
		}
		s.writeJSON(w, toSessionResponse(session))

	case http.MethodPatch:
		// The only mutation a session supports is ending it.
		session, err := s.db.GetSession(id)
		if errors.Is(err, db.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "Session not found")
			return
		}
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve session: %v", err))
			return
		}
		ended, err := s.db.EndSession(session.ID)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to end session: %v", err))
			return
		}
		s.writeJSON(w, toSessionResponse(ended))

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// measurementProperties is the GeoJSON properties block for a measurement.
type measurementProperties struct {
	SessionID     string   `json:"session_id"`
	TargetNode    int64    `json:"target_node"`
	SNRToTarget   float64  `json:"snr_to_target"`
	SNRFromTarget float64  `json:"snr_from_target"`
	RSSI          *float64 `json:"rssi,omitempty"`
	SNR           *float64 `json:"snr,omitempty"`
	TraceSuccess  bool     `json:"trace_success"`
	Timestamp     string   `json:"timestamp"`
}

func (s *Server) listMeasurements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var filter db.MeasurementFilter
	filter.SessionID = r.URL.Query().Get("session")
	if param := r.URL.Query().Get("target_node"); param != "" {
		parsed, err := strconv.ParseInt(param, 10, 64)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'target_node' parameter")
			return
		}
		filter.TargetNode = parsed
	}
	if param := r.URL.Query().Get("limit"); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil || parsed < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		filter.Limit = parsed
	}
	switch r.URL.Query().Get("ordering") {
	case "", "-timestamp":
	case "timestamp":
		filter.Ascending = true
	default:
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'ordering' parameter")
		return
	}

	measurements, err := s.db.ListMeasurements(filter)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve measurements: %v", err))
		return
	}

	features := make([]geo.Feature, 0, len(measurements))
	for _, m := range measurements {
		point := geo.NewPoint(m.Longitude, m.Latitude)
		feature, err := geo.NewFeature(m.ID, &point, measurementProperties{
			SessionID:     m.SessionID,
			TargetNode:    m.TargetNode,
			SNRToTarget:   m.SNRToTarget,
			SNRFromTarget: m.SNRFromTarget,
			RSSI:          m.RSSI,
			SNR:           m.SNR,
			TraceSuccess:  m.TraceSuccess,
			Timestamp:     m.Timestamp.UTC().Format(time.RFC3339),
		})
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to encode measurement")
			return
		}
		features = append(features, feature)
	}

	s.writeJSON(w, geo.NewFeatureCollection(features))
}

func (s *Server) showTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	nodeParam := r.URL.Query().Get("node")
	if nodeParam == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'node' parameter")
		return
	}
	nodeID, err := strconv.ParseInt(nodeParam, 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'node' parameter")
		return
	}

	days := 7
	if param := r.URL.Query().Get("days"); param != "" {
		days, err = strconv.Atoi(param)
		if err != nil || days <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'days' parameter")
			return
		}
	}

	since := s.clock.Now().AddDate(0, 0, -days)
	summary, err := s.db.SummarizeTelemetry(nodeID, since)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to summarize telemetry: %v", err))
		return
	}

	s.writeJSON(w, summary)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, map[string]any{
		"units":               s.units,
		"protocol_version":    wire.ProtocolVersion,
		"reconnect_delay_ms":  s.policy.ReconnectDelay.Milliseconds(),
		"collect_interval_ms": s.policy.CollectInterval.Milliseconds(),
	})
}
