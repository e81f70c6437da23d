// Package web serves the JSON API and the WebSocket event stream of the
// light.
package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"zigbee-go-bulb/internal/automation"
	"zigbee-go-bulb/internal/bulb"
	"zigbee-go-bulb/internal/zstack"

	"github.com/google/uuid"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server of the light.
type Server struct {
	device         *bulb.Device
	client         *zstack.Client
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a web server for device. Commands go through client so
// they are gated exactly like network frames.
func NewServer(device *bulb.Device, client *zstack.Client, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		device: device,
		client: client,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Broadcast is non-blocking, safe on the device loop.
	s.unsubEvents = device.Events().OnAll(func(event bulb.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for it.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)
	s.mux.HandleFunc("GET /api/network", s.handleAPINetworkInfo)
	s.mux.HandleFunc("GET /api/clusters", s.handleAPIListClusters)

	s.mux.HandleFunc("GET /api/endpoints", s.handleAPIListEndpoints)
	s.mux.HandleFunc("GET /api/endpoints/{id}", s.handleAPIGetEndpoint)
	s.mux.HandleFunc("GET /api/endpoints/{id}/identify", s.handleAPIIdentifyQuery)
	s.mux.HandleFunc("POST /api/endpoints/{id}/on", s.handleAPIOn)
	s.mux.HandleFunc("POST /api/endpoints/{id}/off", s.handleAPIOff)
	s.mux.HandleFunc("POST /api/endpoints/{id}/toggle", s.handleAPIToggle)
	s.mux.HandleFunc("POST /api/endpoints/{id}/level", s.handleAPISetLevel)
	s.mux.HandleFunc("POST /api/endpoints/{id}/step", s.handleAPIStep)
	s.mux.HandleFunc("POST /api/endpoints/{id}/identify", s.handleAPIIdentify)
	s.mux.HandleFunc("POST /api/endpoints/{id}/effect", s.handleAPIEffect)
	s.mux.HandleFunc("POST /api/endpoints/{id}/read", s.handleAPIReadAttributes)
	s.mux.HandleFunc("POST /api/endpoints/{id}/write", s.handleAPIWriteAttribute)
	s.mux.HandleFunc("POST /api/endpoints/{id}/command", s.handleAPISendCommand)
	s.mux.HandleFunc("POST /api/buttons/{event}", s.handleAPIPressButton)

	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)
	s.mux.HandleFunc("POST /api/automations/run", s.handleAPIRunInline)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying request ID, CORS and auth
// middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", reqID)
	s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "request_id", reqID)

	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket upgrade cannot carry custom headers, only /api/ is keyed.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
