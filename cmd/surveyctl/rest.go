package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/meshfield/meshmap/internal/geo"
	"github.com/meshfield/meshmap/internal/httputil"
)

const defaultServer = "http://localhost:8080"

// restClient is a thin wrapper over the daemon's /api endpoints.
type restClient struct {
	baseURL string
	http    httputil.HTTPClient
}

func newRESTClient(baseURL string) *restClient {
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httputil.NewStandardClient(nil),
	}
}

// wsURL converts the REST base URL into the mapping channel endpoint.
func (c *restClient) wsURL() string {
	ws := strings.Replace(c.baseURL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return ws + "/ws/mapping"
}

func (c *restClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s from %s", resp.Status, path)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}

// serverConfig mirrors the policy the daemon serves on /api/config.
type serverConfig struct {
	Units             string `json:"units"`
	ProtocolVersion   int    `json:"protocol_version"`
	ReconnectDelayMS  int64  `json:"reconnect_delay_ms"`
	CollectIntervalMS int64  `json:"collect_interval_ms"`
}

func (s serverConfig) reconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelayMS) * time.Millisecond
}

func (s serverConfig) collectInterval() time.Duration {
	return time.Duration(s.CollectIntervalMS) * time.Millisecond
}

func (c *restClient) fetchConfig() (serverConfig, error) {
	var cfg serverConfig
	err := c.do(http.MethodGet, "/api/config", nil, &cfg)
	return cfg, err
}

// nodeInfo mirrors the properties of a node feature served by /api/nodes.
type nodeInfo struct {
	MeshIdentity   string `json:"mesh_identity"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	EstimatedRange int    `json:"estimated_range"`
	IsActive       bool   `json:"is_active"`
	LastSeen       string `json:"last_seen,omitempty"`
}

// sessionInfo mirrors the session objects served by /api/sessions.
type sessionInfo struct {
	ID         string  `json:"id"`
	TargetNode int64   `json:"target_node"`
	StartTime  string  `json:"start_time"`
	EndTime    *string `json:"end_time"`
	IsActive   bool    `json:"is_active"`
	Notes      string  `json:"notes"`
}

func (c *restClient) startSession(targetNode int64, notes string) (sessionInfo, error) {
	var session sessionInfo
	body := map[string]any{"target_node": targetNode, "notes": notes}
	err := c.do(http.MethodPost, "/api/sessions", body, &session)
	return session, err
}

func (c *restClient) endSession(id string) (sessionInfo, error) {
	var session sessionInfo
	err := c.do(http.MethodPatch, "/api/sessions/"+id, nil, &session)
	return session, err
}

func handleNodes(args []string) error {
	fs := flag.NewFlagSet("nodes", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Base URL of the meshmapd daemon")
	role := fs.String("role", "", "Filter by role (repeater or client)")
	activeOnly := fs.Bool("active", false, "Only show active nodes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "/api/nodes?"
	if *role != "" {
		path += "role=" + *role + "&"
	}
	if *activeOnly {
		path += "is_active=true"
	}

	var collection geo.FeatureCollection
	if err := newRESTClient(*server).do(http.MethodGet, path, nil, &collection); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tIDENTITY\tNAME\tROLE\tACTIVE\tPOSITION")
	for _, feature := range collection.Features {
		var node nodeInfo
		if err := feature.DecodeProperties(&node); err != nil {
			continue
		}
		position := "-"
		if feature.Geometry != nil {
			if lon, lat, err := feature.Geometry.LonLat(); err == nil {
				position = fmt.Sprintf("%.5f,%.5f", lat, lon)
			}
		}
		fmt.Fprintf(w, "%v\t%s\t%s\t%s\t%v\t%s\n",
			feature.ID, node.MeshIdentity, node.Name, node.Role, node.IsActive, position)
	}
	return w.Flush()
}

func handleSessions(args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Base URL of the meshmapd daemon")
	activeOnly := fs.Bool("active", false, "Only show active sessions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "/api/sessions"
	if *activeOnly {
		path += "?is_active=true"
	}

	var sessions []sessionInfo
	if err := newRESTClient(*server).do(http.MethodGet, path, nil, &sessions); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tSTARTED\tACTIVE\tNOTES")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%v\t%s\n", s.ID, s.TargetNode, s.StartTime, s.IsActive, s.Notes)
	}
	return w.Flush()
}

func handleStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Base URL of the meshmapd daemon")
	target := fs.Int64("target", 0, "Database ID of the target node")
	notes := fs.String("notes", "", "Free-form session notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == 0 {
		return fmt.Errorf("--target is required")
	}

	session, err := newRESTClient(*server).startSession(*target, *notes)
	if err != nil {
		return err
	}
	fmt.Printf("Started session %s against node %d\n", session.ID, session.TargetNode)
	return nil
}

func handleEnd(args []string) error {
	fs := flag.NewFlagSet("end", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Base URL of the meshmapd daemon")
	sessionID := fs.String("session", "", "Session ID to end")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("--session is required")
	}

	session, err := newRESTClient(*server).endSession(*sessionID)
	if err != nil {
		return err
	}
	ended := "unknown"
	if session.EndTime != nil {
		ended = *session.EndTime
	}
	fmt.Printf("Ended session %s at %s\n", session.ID, ended)
	return nil
}
