// Package api serves Hearth's HTTP surface: a chat endpoint, an
// explicit digest trigger, a usage summary and two websockets, one a
// chat transport and one a live feed of operational events.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/agent"
	"github.com/nugget/hearth/internal/buildinfo"
	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/connwatch"
	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/transport"
	"github.com/nugget/hearth/internal/usage"
)

// maxBodyBytes caps request bodies; inline images dominate the size.
const maxBodyBytes = 16 << 20

// Responder answers one message. *agent.Handler implements it.
type Responder interface {
	Respond(ctx context.Context, msg transport.InboundMessage) agent.Reply
}

// DigestSender builds and delivers a digest now.
type DigestSender interface {
	Send(ctx context.Context, chatID string) error
}

// UsageReporter summarizes the usage ledger.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByRole(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// HealthReporter reports the reachability of upstream services.
type HealthReporter interface {
	Status() []connwatch.ServiceStatus
	Healthy() bool
}

// Deps are the server's collaborators. Any may be nil; the matching
// endpoints then answer 503.
type Deps struct {
	Responder Responder
	Digest    DigestSender
	Usage     UsageReporter
	Hub       *Hub
	Bus       *events.Bus
	Health    HealthReporter
}

// Server is the HTTP API server.
type Server struct {
	cfg    config.APIConfig
	deps   Deps
	auth   *tokenAuth
	logger *slog.Logger
	server *http.Server
	now    func() time.Time
}

// NewServer creates the server. It does not listen until Start.
func NewServer(cfg config.APIConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		auth:   newTokenAuth(cfg.TokenHash),
		logger: logger.With("component", "api"),
		now:    time.Now,
	}
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	mux.Handle("POST /v1/messages", s.auth.require(http.HandlerFunc(s.handleMessage)))
	mux.Handle("POST /v1/digest", s.auth.require(http.HandlerFunc(s.handleDigest)))
	mux.Handle("GET /v1/usage", s.auth.require(http.HandlerFunc(s.handleUsage)))
	mux.Handle("GET /v1/ws", s.auth.require(http.HandlerFunc(s.handleChatSocket)))
	mux.Handle("GET /v1/events", s.auth.require(http.HandlerFunc(s.handleEventSocket)))

	return s.withLogging(mux)
}

// Start listens until the server is shut down. It returns nil after a
// graceful Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Long enough for a full agent run or digest build.
		WriteTimeout: 5 * time.Minute,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port, "auth", s.auth.enabled())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": message}, s.logger)
}

// HealthResponse is the body of GET /health. The endpoint answers 200
// even when degraded so the process itself still reads as alive.
type HealthResponse struct {
	Status   string                    `json:"status"`
	Services []connwatch.ServiceStatus `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if s.deps.Health != nil {
		resp.Services = s.deps.Health.Status()
		if !s.deps.Health.Healthy() {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	info := buildinfo.Info()
	info["uptime"] = buildinfo.Uptime().Truncate(time.Second).String()
	writeJSON(w, http.StatusOK, info, s.logger)
}

// ImagePayload is an image in a message request: either a URL or
// base64 data with its media type.
type ImagePayload struct {
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// MessageRequest is the body of POST /v1/messages.
type MessageRequest struct {
	ChatID     string         `json:"chat_id"`
	SenderName string         `json:"sender_name,omitempty"`
	Text       string         `json:"text"`
	Images     []ImagePayload `json:"images,omitempty"`
}

// MessageResponse is the reply to POST /v1/messages.
type MessageResponse struct {
	Reply     string           `json:"reply"`
	RequestID string           `json:"request_id"`
	State     *agent.LoopState `json:"state,omitempty"`
}

// inbound validates req and converts it for the agent.
func (req *MessageRequest) inbound(now time.Time) (transport.InboundMessage, error) {
	if req.ChatID == "" {
		return transport.InboundMessage{}, fmt.Errorf("chat_id is required")
	}
	if _, _, ok := transport.SplitChatID(req.ChatID); !ok {
		return transport.InboundMessage{}, fmt.Errorf("chat_id must look like prefix:id")
	}
	images, err := decodeImages(req.Images)
	if err != nil {
		return transport.InboundMessage{}, err
	}
	if strings.TrimSpace(req.Text) == "" && len(images) == 0 {
		return transport.InboundMessage{}, fmt.Errorf("text or images required")
	}
	return transport.InboundMessage{
		ChatID:     req.ChatID,
		SenderName: req.SenderName,
		Text:       req.Text,
		Images:     images,
		ReceivedAt: now,
	}, nil
}

func decodeImages(in []ImagePayload) ([]llm.Image, error) {
	var out []llm.Image
	for i, p := range in {
		switch {
		case p.Data != "":
			data, err := base64.StdEncoding.DecodeString(p.Data)
			if err != nil {
				return nil, fmt.Errorf("image %d: invalid base64: %w", i, err)
			}
			mt := p.MediaType
			if mt == "" {
				mt = http.DetectContentType(data)
			}
			if !strings.HasPrefix(mt, "image/") {
				return nil, fmt.Errorf("image %d: unsupported media type %q", i, mt)
			}
			out = append(out, llm.Image{MediaType: mt, Data: data})
		case p.URL != "":
			if !strings.HasPrefix(p.URL, "https://") && !strings.HasPrefix(p.URL, "http://") {
				return nil, fmt.Errorf("image %d: url must be http or https", i)
			}
			out = append(out, llm.Image{URL: p.URL, MediaType: p.MediaType})
		default:
			return nil, fmt.Errorf("image %d: url or data required", i)
		}
	}
	return out, nil
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Responder == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "chat is not available")
		return
	}
	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	msg, err := req.inbound(s.now())
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	s.deps.Bus.Emit(events.SourceAPI, events.KindMessageReceived, map[string]any{
		"chat_id":     msg.ChatID,
		"message_len": len(msg.Text),
		"images":      len(msg.Images),
	})
	reply := s.deps.Responder.Respond(r.Context(), msg)
	writeJSON(w, http.StatusOK, MessageResponse{
		Reply:     reply.Text,
		RequestID: reply.RequestID,
		State:     reply.State,
	}, s.logger)
}

// DigestRequest is the body of POST /v1/digest.
type DigestRequest struct {
	ChatID string `json:"chat_id"`
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Digest == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "digest is not available")
		return
	}
	var req DigestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if _, _, ok := transport.SplitChatID(req.ChatID); !ok {
		s.errorResponse(w, http.StatusBadRequest, "chat_id must look like prefix:id")
		return
	}

	if err := s.deps.Digest.Send(r.Context(), req.ChatID); err != nil {
		s.logger.Error("digest trigger failed", "chat_id", req.ChatID, "error", err)
		code := http.StatusBadGateway
		if errors.Is(err, transport.ErrNoRoute) {
			code = http.StatusNotFound
		}
		s.errorResponse(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "chat_id": req.ChatID}, s.logger)
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	Start   time.Time                 `json:"start"`
	End     time.Time                 `json:"end"`
	Total   *usage.Summary            `json:"total"`
	ByModel map[string]*usage.Summary `json:"by_model"`
	ByRole  map[string]*usage.Summary `json:"by_role"`
}

// handleUsage reports usage over the last ?days (default 1, max 90).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage ledger is not available")
		return
	}
	days := parseIntParam(r, "days", 1)
	if days < 1 || days > 90 {
		s.errorResponse(w, http.StatusBadRequest, "days must be between 1 and 90")
		return
	}

	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)
	ctx := r.Context()

	total, err := s.deps.Usage.Summary(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	byModel, err := s.deps.Usage.SummaryByModel(ctx, start, end)
	if err != nil {
		s.logger.Error("usage by model failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	byRole, err := s.deps.Usage.SummaryByRole(ctx, start, end)
	if err != nil {
		s.logger.Error("usage by role failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Start:   start,
		End:     end,
		Total:   total,
		ByModel: byModel,
		ByRole:  byRole,
	}, s.logger)
}

// parseIntParam returns the query parameter as an int, or def when it
// is absent. A malformed value yields -1 so range checks reject it.
func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
