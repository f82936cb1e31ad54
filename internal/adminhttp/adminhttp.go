// Package adminhttp exposes a read-only HTTP view of a running server:
// health, counters, channels and users.
package adminhttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"relaychat/internal/metrics"
	"relaychat/internal/server"
	"relaychat/internal/session"
)

// Source is what the endpoints report on.  *server.Server satisfies it.
type Source interface {
	Users() []session.Snapshot
	Channels() []server.ChannelInfo
	Metrics() *metrics.Collector
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Users    int    `json:"users"`
	Channels int    `json:"channels"`
}

// UserResponse is one entry of GET /users.
type UserResponse struct {
	Nickname string `json:"nickname"`
	Channel  string `json:"channel,omitempty"`
	Admin    bool   `json:"admin"`
	Muted    bool   `json:"muted"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

type handlers struct {
	src Source
	log *zerolog.Logger
}

// NewHandler builds the gin router.
func NewHandler(src Source, logger *zerolog.Logger) http.Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	gin.SetMode(gin.ReleaseMode)
	h := &handlers{src: src, log: logger}

	r := gin.New()
	r.Use(gin.Recovery(), loggerMiddleware(logger))
	r.GET("/healthz", h.health)
	r.GET("/stats", h.stats)
	r.GET("/channels", h.channels)
	r.GET("/channels/:name", h.channel)
	r.GET("/users", h.users)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	return r
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Users:    len(h.src.Users()),
		Channels: len(h.src.Channels()),
	})
}

func (h *handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.src.Metrics().Snapshot())
}

func (h *handlers) channels(c *gin.Context) {
	c.JSON(http.StatusOK, h.src.Channels())
}

// channel accepts the name with or without its leading '#', which is
// awkward to put in a URL.
func (h *handlers) channel(c *gin.Context) {
	name := c.Param("name")
	for _, ch := range h.src.Channels() {
		if ch.Name == name || ch.Name == "#"+name {
			c.JSON(http.StatusOK, ch)
			return
		}
	}
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "no such channel"})
}

func (h *handlers) users(c *gin.Context) {
	snaps := h.src.Users()
	out := make([]UserResponse, len(snaps))
	for i, s := range snaps {
		out[i] = UserResponse{Nickname: s.Nickname, Channel: s.Channel, Admin: s.Admin, Muted: s.Muted}
	}
	c.JSON(http.StatusOK, out)
}

func loggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// ── Server ───────────────────────────────────────────────────────────

// Server serves the admin endpoints until Shutdown.
type Server struct {
	http *http.Server
	ln   net.Listener
	log  *zerolog.Logger
	done chan error
}

// Start listens on addr and serves in the background.
func Start(addr string, src Source, logger *zerolog.Logger) (*Server, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "adminhttp").Logger()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		http: &http.Server{
			Handler:           NewHandler(src, &l),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:   ln,
		log:  &l,
		done: make(chan error, 1),
	}
	go func() {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	l.Info().Str("addr", ln.Addr().String()).Msg("admin http listening")
	return s, nil
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
