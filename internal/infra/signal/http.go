package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"alarm-tstat/internal/domain"
)

// HTTPSource accepts relay levels over HTTP, for alarm panels that report
// through a network module or for driving the controller from automations.
type HTTPSource struct {
	*emitter

	addr      string
	authToken string
	lines     []Line
	known     map[string]bool
	engine    *gin.Engine
	server    *http.Server
	listener  net.Listener
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

type signalRequest struct {
	// Either Line+Level for a single contact, or State for the whole alarm.
	Line  string `json:"line"`
	Level *bool  `json:"level"`
	State string `json:"state"`
}

// NewHTTPSource creates the source. limit and burst bound requests per client IP.
func NewHTTPSource(addr, authToken string, lines []Line, limit rate.Limit, burst int, logger *slog.Logger) *HTTPSource {
	gin.SetMode(gin.ReleaseMode)

	h := &HTTPSource{
		emitter:   newEmitter(16),
		addr:      addr,
		authToken: authToken,
		lines:     lines,
		known:     make(map[string]bool, len(lines)),
		engine:    gin.New(),
		logger:    logger,
		now:       time.Now,
	}
	for _, l := range lines {
		h.known[l.Name] = true
	}

	h.engine.Use(gin.Recovery())
	// No rate limiting or auth on the health check
	h.engine.GET("/health", h.handleHealth)
	h.engine.POST("/signal", NewIPRateLimiter(limit, burst).Middleware(), h.authorize, h.handleSignal)
	return h
}

func (h *HTTPSource) Name() string {
	return "http"
}

func (h *HTTPSource) Handler() http.Handler {
	return h.engine
}

// Addr is the bound listen address once started, otherwise the configured one.
func (h *HTTPSource) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

func (h *HTTPSource) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}

	// A taken port is reported by Start, not by the serving goroutine.
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	h.listener = ln

	h.server = &http.Server{
		Handler:      h.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		h.logger.Info("HTTP signal server starting", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", "error", err)
		}
	}()

	h.running = true
	return nil
}

func (h *HTTPSource) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stop()
	if h.running && h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			if err := h.server.Close(); err != nil {
				return fmt.Errorf("closing server: %w", err)
			}
		}
	}

	h.closeEdges()
	h.running = false
	return nil
}

func (h *HTTPSource) authorize(c *gin.Context) {
	if h.authToken == "" {
		c.Next()
		return
	}

	token := c.GetHeader("X-Auth-Token")
	if token == "" {
		token = c.Query("token")
	}
	if token != h.authToken {
		h.logger.Warn("unauthorized signal request", "remote_addr", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *HTTPSource) handleSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var edges []domain.RawEdge
	switch {
	case req.State != "":
		state, err := domain.ParseAlarmState(req.State)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		edges = edgesFor(h.lines, state, h.now())
	case req.Line != "" && req.Level != nil:
		if !h.known[req.Line] {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown line " + req.Line})
			return
		}
		edges = []domain.RawEdge{{Line: req.Line, Level: *req.Level, At: h.now()}}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "line and level, or state, required"})
		return
	}

	select {
	case <-h.done:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	default:
	}

	for _, edge := range edges {
		if !h.offer(edge) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue full, try again"})
			return
		}
	}

	h.logger.Info("received signal via HTTP", "line", req.Line, "state", req.State, "edges", len(edges))
	c.JSON(http.StatusAccepted, gin.H{"status": "received", "edges": len(edges)})
}

func (h *HTTPSource) handleHealth(c *gin.Context) {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()

	status := "ok"
	code := http.StatusOK
	if !running {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{"status": status, "running": running, "queue_size": len(h.edges)})
}
