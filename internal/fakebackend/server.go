// ABOUTME: Gin HTTP server emulating the Otto streaming endpoint
// ABOUTME: Checks the query token, decodes the turn request and streams scripted frames

package fakebackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/2389/otto/internal/auth"
	"github.com/2389/otto/internal/dedupe"
	"github.com/2389/otto/internal/session"
	"github.com/2389/otto/internal/sse"
	"github.com/2389/otto/internal/transcript"
)

// Config configures a Server.
type Config struct {
	// Token, when set, is the only accepted token.
	Token string
	// Verifier, when set, validates tokens instead of Token.
	Verifier auth.TokenVerifier
	// StepDelay pauses between frames so streaming is visible.
	StepDelay time.Duration
	// ReplayWindow, when positive, answers a form submission repeated
	// within the window with a notice instead of the responder's script.
	ReplayWindow time.Duration
	// Responder scripts the frames; DefaultResponder when nil.
	Responder Responder
	Logger    *slog.Logger
}

// Server is the fake backend.
type Server struct {
	cfg         Config
	logger      *slog.Logger
	handler     *gin.Engine
	srv         *http.Server
	submissions *dedupe.Window // nil when replay detection is off
}

// maxTrackedSubmissions bounds the replay window's memory.
const maxTrackedSubmissions = 1024

// errUnauthorized is the detail the real backend sends for a bad token.
const errUnauthorized = "Invalid or expired token"

// New builds a Server. It does not listen until Serve or ListenAndServe.
func New(cfg Config) *Server {
	if cfg.Responder == nil {
		cfg.Responder = DefaultResponder
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "fakebackend"),
	}
	if cfg.ReplayWindow > 0 {
		s.submissions = dedupe.New(cfg.ReplayWindow, maxTrackedSubmissions)
	}

	r := gin.New()
	r.Use(s.logRequests(), gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST(session.DefaultStreamPath, s.authenticate(), s.handleStreamPost)
	r.GET(session.DefaultStreamPath, s.authenticate(), s.handleStreamGet)

	s.handler = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("fake backend listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// authenticate rejects requests whose token query parameter is missing or
// not accepted.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if !s.accepts(token) {
			s.logger.Debug("rejected token", "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": errUnauthorized})
			return
		}
		c.Next()
	}
}

func (s *Server) accepts(token string) bool {
	switch {
	case token == "":
		return false
	case s.cfg.Verifier != nil:
		_, err := s.cfg.Verifier.Verify(token)
		return err == nil
	case s.cfg.Token != "":
		return token == s.cfg.Token
	default:
		return true
	}
}

func (s *Server) handleStreamPost(c *gin.Context) {
	var req session.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	s.stream(c, req)
}

func (s *Server) handleStreamGet(c *gin.Context) {
	req := session.Request{Input: c.Query("input")}
	if pk, ok := c.GetQuery("page_key"); ok && pk != "" {
		req.PageKey = &pk
	}
	s.stream(c, req)
}

// isReplay reports whether the same caller already sent this form
// submission within the replay window.
func (s *Server) isReplay(token, input string) bool {
	if s.submissions == nil || !strings.HasPrefix(input, transcript.FormSubmitPrefix) {
		return false
	}
	return s.submissions.Seen(token + "\x00" + input)
}

func (s *Server) stream(c *gin.Context, req session.Request) {
	if req.Input == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "input is required"})
		return
	}

	var events []sse.Event
	if s.isReplay(c.Query("token"), req.Input) {
		s.logger.Info("replayed form submission", "input_len", len(req.Input))
		events = ReplayedSubmission()
	} else {
		events = s.cfg.Responder(req)
	}
	s.logger.Info("streaming turn", "input_len", len(req.Input), "history", len(req.History), "frames", len(events))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for i, ev := range events {
		frame, err := sse.Encode(ev)
		if err != nil {
			s.logger.Error("encoding frame", "error", err)
			return
		}
		if _, err := c.Writer.Write(frame); err != nil {
			s.logger.Debug("client went away", "error", err)
			return
		}
		c.Writer.Flush()

		if i == len(events)-1 || s.cfg.StepDelay <= 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			s.logger.Debug("turn aborted by client", "sent", i+1)
			return
		case <-time.After(s.cfg.StepDelay):
		}
	}
}
