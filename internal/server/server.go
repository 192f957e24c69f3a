// Package server exposes the conversation pipeline over HTTP: the chunked
// frame stream for chat turns and the speech synthesis endpoint for the
// client's playback queue.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"go.uber.org/zap"

	"github.com/liberty/conversation-pipeline/api/wire"
	"github.com/liberty/conversation-pipeline/internal/assistant"
	"github.com/liberty/conversation-pipeline/internal/ledger"
	"github.com/liberty/conversation-pipeline/internal/license"
	"github.com/liberty/conversation-pipeline/internal/orchestrator"
	wirecodec "github.com/liberty/conversation-pipeline/internal/wire"
	"github.com/liberty/conversation-pipeline/providers/tts"
)

// TurnRunner is the orchestrator surface the server needs.
type TurnRunner interface {
	RunTurn(ctx context.Context, in orchestrator.Input, open orchestrator.OpenStream) (orchestrator.Result, error)
}

// Config controls the HTTP server.
type Config struct {
	Addr string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":8787"
	}
	return c
}

// Server wires the pipeline components behind HTTP routes.
type Server struct {
	cfg      Config
	echo     *echo.Echo
	runner   TurnRunner
	standard tts.Provider
	premium  tts.Provider
	recorder *ledger.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// New constructs the server. premium may be nil; tenants with the premium
// voice flag then fall back to the standard provider.
func New(cfg Config, runner TurnRunner, standard, premium tts.Provider, recorder *ledger.Recorder, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg.withDefaults(),
		echo:     echo.New(),
		runner:   runner,
		standard: standard,
		premium:  premium,
		recorder: recorder,
		logger:   logger.Named("server"),
		now:      time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.Use(s.requestLog)
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.POST("/chat/stream", s.handleChatStream)
	s.echo.POST("/voice/speak", s.handleSpeak)
}

// Handler returns the router for an http.Server.
func (s *Server) Handler() http.Handler { return s.echo }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		start := s.now()
		err := next(c)
		s.logger.Info("request",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Duration("elapsed", s.now().Sub(start)),
			zap.Error(err))
		return err
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleChatStream runs one turn. Failures before the answer map to plain
// JSON error statuses; once streaming starts the connection carries frames
// only.
func (s *Server) handleChatStream(c *echo.Context) error {
	var req wire.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	httpReq := c.Request()
	in := orchestrator.Input{
		License:    req.License,
		UserText:   req.LastUserText(),
		Locale:     req.Locale,
		SessionRef: req.SessionRef,
		Request: orchestrator.RequestMeta{
			Path:      httpReq.URL.Path,
			UserAgent: httpReq.UserAgent(),
			IP:        remoteIP(httpReq),
		},
	}

	streaming := false
	open := func(sessionRef string) (orchestrator.Emitter, error) {
		rw := c.Response()
		rw.Header().Set("Content-Type", wire.ContentType)
		rw.Header().Set("Cache-Control", "no-cache")
		rw.Header().Set("X-Accel-Buffering", "no")
		rw.WriteHeader(http.StatusOK)
		streaming = true
		return wirecodec.NewEncoder(rw, sessionRef), nil
	}

	if _, err := s.runner.RunTurn(httpReq.Context(), in, open); err != nil {
		if streaming {
			// Headers are gone; the broken stream is all the client sees.
			s.logger.Warn("turn failed mid-stream", zap.Error(err))
			return nil
		}
		return s.turnError(c, err)
	}
	return nil
}

func (s *Server) turnError(c *echo.Context, err error) error {
	var disabled *orchestrator.FeatureDisabledError
	var exceeded *orchestrator.QuotaExceededError
	var adapterErr *assistant.Error
	switch {
	case errors.As(err, &disabled):
		return c.JSON(http.StatusForbidden, wire.ErrorResponse{Message: disabled.Error()})
	case errors.As(err, &exceeded):
		return c.JSON(http.StatusTooManyRequests, wire.ErrorResponse{Message: exceeded.Error()})
	case errors.As(err, &adapterErr) && adapterErr.Kind == assistant.KindUnavailable:
		return c.JSON(http.StatusServiceUnavailable, wire.ErrorResponse{Message: "assistant service is unavailable, please retry"})
	case errors.As(err, &adapterErr):
		return c.JSON(http.StatusBadGateway, wire.ErrorResponse{Message: "assistant service rejected the request"})
	default:
		return c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Message: "internal error"})
	}
}

// handleSpeak synthesizes one text unit and streams the MP3 body back.
func (s *Server) handleSpeak(c *echo.Context) error {
	var req wire.SpeakRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if req.License.Expired(s.now()) || !req.License.Feature(license.FeatureTTS) {
		return c.JSON(http.StatusForbidden, wire.ErrorResponse{Message: "speech synthesis is disabled for this license"})
	}

	provider := s.providerFor(req.License)
	audio, err := provider.Synthesize(c.Request().Context(), tts.Request{Text: req.Text, Locale: req.Locale})
	if err != nil {
		s.recordSpeechError(req.License.TenantID(), c.Request(), err)
		var provErr *tts.Error
		if errors.As(err, &provErr) && provErr.Kind == tts.KindRejected {
			return c.JSON(http.StatusBadRequest, wire.ErrorResponse{Message: "synthesis rejected the text"})
		}
		return c.JSON(http.StatusServiceUnavailable, wire.ErrorResponse{Message: "speech synthesis is unavailable"})
	}
	defer audio.Close()

	s.recordSpeechUsage(req.License.TenantID(), provider.Name(), req)

	rw := c.Response()
	rw.Header().Set("Content-Type", "audio/mpeg")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.WriteHeader(http.StatusOK)
	if _, err := io.Copy(rw, audio); err != nil {
		s.logger.Warn("audio stream aborted", zap.Error(err))
	}
	return nil
}

func (s *Server) providerFor(lic license.Payload) tts.Provider {
	if lic.Feature(license.FeaturePremiumVoice) && s.premium != nil {
		return s.premium
	}
	return s.standard
}

func (s *Server) recordSpeechUsage(tenantID, provider string, req wire.SpeakRequest) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordUsage(ledger.UsageEvent{
		TenantID:  tenantID,
		EventType: ledger.EventSpeechSynthesis,
		EventData: map[string]any{
			"provider":    provider,
			"text_length": len([]rune(req.Text)),
			"locale":      req.Locale,
		},
		Timestamp: s.now(),
	})
}

func (s *Server) recordSpeechError(tenantID string, httpReq *http.Request, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordError(ledger.ErrorLog{
		TenantID:     tenantID,
		ErrorType:    "speech_synthesis",
		ErrorMessage: err.Error(),
		RequestPath:  httpReq.URL.Path,
		UserAgent:    httpReq.UserAgent(),
		IPAddress:    remoteIP(httpReq),
		Timestamp:    s.now(),
	})
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
