package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/illmade-knight/go-agentflow/pkg/routing"
	"github.com/rs/zerolog"
)

// ServerConfig holds configuration for the inbound webhook fallback server.
type ServerConfig struct {
	// HTTPPort is the listen address, e.g. ":8081". ":0" picks a free port.
	HTTPPort string

	// SecretHeader and SecretValue configure an optional shared-secret check.
	// When SecretValue is set, requests whose SecretHeader does not match are
	// rejected with 401; the channel connection and its subscriptions are
	// unaffected.
	SecretHeader string
	SecretValue  string

	// MaxBodyBytes caps the accepted request body size. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Server is the stateless HTTP fallback transport. Each inbound POST is a
// short-lived unit of work: normalize, filter, emit, respond. Exactly one
// response is produced per request — a filter drop is still a 200 so a
// legitimate caller is never left with an error for an admitted-then-filtered
// message.
type Server struct {
	cfg      ServerConfig
	policy   routing.FilterPolicy
	enricher routing.Enricher
	emitter  routing.Emitter
	logger   zerolog.Logger

	httpServer *http.Server
	mux        *http.ServeMux
	actualAddr string
	mu         sync.RWMutex
}

// NewServer creates and initializes a webhook fallback Server. The enricher
// may be nil.
func NewServer(
	cfg ServerConfig,
	policy routing.FilterPolicy,
	enricher routing.Enricher,
	emitter routing.Emitter,
	logger zerolog.Logger,
) (*Server, error) {
	if emitter == nil {
		return nil, fmt.Errorf("emitter cannot be nil")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		cfg:      cfg,
		policy:   policy,
		enricher: enricher,
		emitter:  emitter,
		logger:   logger.With().Str("component", "WebhookServer").Logger(),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", HealthzHandler)
	s.mux.HandleFunc("/webhooks/inbound", s.handleInbound)
	s.httpServer = &http.Server{
		Addr:    cfg.HTTPPort,
		Handler: s.mux,
	}
	return s, nil
}

// Start initiates the HTTP server in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.cfg.HTTPPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("Webhook server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Webhook server failed")
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server, respecting the provided
// context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down webhook server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during webhook server shutdown.")
		return err
	}
	s.logger.Info().Msg("Webhook server stopped.")
	return nil
}

// GetHTTPPort returns the actual port the server is listening on.
func (s *Server) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.cfg.HTTPPort
	}
	return ":" + port
}

// Mux returns the underlying ServeMux so additional routes can be attached.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// receipt is the fixed response body for accepted webhook deliveries.
type receipt struct {
	Received bool `json:"received"`
	Filtered bool `json:"filtered,omitempty"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.cfg.SecretValue != "" && r.Header.Get(s.cfg.SecretHeader) != s.cfg.SecretValue {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Webhook shared-secret mismatch.")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read webhook body.")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	// Normalization never fails; malformed bodies degrade to defaults and the
	// filter decides their fate.
	msg := agentmessage.Normalize(body, agentmessage.TransportWebhook)
	log := s.logger.With().Str("msg_id", msg.ID).Logger()

	if !s.policy.Admit(msg) {
		log.Debug().Str("event_type", string(msg.EventType)).Msg("Webhook message dropped by filter policy.")
		writeJSON(w, http.StatusOK, receipt{Received: true, Filtered: true})
		return
	}

	var att *agentmessage.Attachment
	if s.enricher != nil && msg.HasAttachment() {
		att, err = s.enricher(r.Context(), &msg)
		if err != nil {
			log.Warn().Err(err).Str("file_url", msg.FileURL).Msg("Attachment fetch failed, forwarding message without attachment.")
			att = nil
		}
	}

	if err := s.emitter.Emit(r.Context(), msg, att); err != nil {
		log.Error().Err(err).Msg("Emission failed for webhook message.")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	log.Debug().Msg("Webhook message emitted.")
	writeJSON(w, http.StatusOK, receipt{Received: true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
