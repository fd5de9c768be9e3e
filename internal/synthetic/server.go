// Package synthetic implements the self-contained streaming target the
// harness drives when no real model server is available. It speaks the
// chat-completion SSE shape and exposes tunable delay, payload size, CPU
// spin, and fanout knobs so load characteristics can be dialed in.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokensweep/tokensweep/internal/metrics"
)

// Server is the synthetic target HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
	client     *http.Client

	defaults   Defaults
	fanoutHTTP bool
	toolTarget string

	host string
	port int
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHost sets the listen host
func WithHost(host string) Option {
	return func(s *Server) {
		s.host = host
	}
}

// WithPort sets the listen port
func WithPort(port int) Option {
	return func(s *Server) {
		s.port = port
	}
}

// WithFanoutHTTP switches fanout from in-process spins to loopback HTTP
// calls against the tool endpoint.
func WithFanoutHTTP(enabled bool) Option {
	return func(s *Server) {
		s.fanoutHTTP = enabled
	}
}

// WithToolURL points HTTP fanout at an explicit tool endpoint instead of
// the server's own loopback address.
func WithToolURL(url string) Option {
	return func(s *Server) {
		s.toolTarget = url
	}
}

// New creates a synthetic target server with the given request defaults
func New(defaults Defaults, opts ...Option) *Server {
	s := &Server{
		logger:   slog.Default(),
		client:   &http.Client{Timeout: 5 * time.Second},
		defaults: defaults,
		host:     "0.0.0.0",
		port:     8083,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(s.metricsMiddleware())
	router.Use(s.bodySizeLimitMiddleware(1 << 20))
	router.Use(s.loggingMiddleware())
	router.Use(s.recoveryMiddleware())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/api/chat/completions", s.handleChat)
	router.POST("/tool", s.handleTool)

	micro := router.Group("/micro")
	{
		micro.GET("/plain", s.handleMicroPlain)
		micro.GET("/chunked", s.handleMicroChunked)
	}

	s.router = router
}

// Start starts the HTTP server. WriteTimeout stays unset because streams
// legitimately hold the response open for their full duration.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("starting synthetic target",
		slog.String("addr", addr),
		slog.Int("frames", s.defaults.Frames),
		slog.Int("delay_ms", s.defaults.DelayMs),
		slog.Int("bytes_per_frame", s.defaults.BytesPerFrame),
		slog.Bool("fanout_http", s.fanoutHTTP))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down synthetic target")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the Gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) toolURL() string {
	if s.toolTarget != "" {
		return s.toolTarget
	}
	return fmt.Sprintf("http://127.0.0.1:%d/tool", s.port)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok\n")
}

// Middleware

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(c.Request.Method, path, status, duration)
	}
}

// loggingMiddleware logs at debug level, this server sits on the hot path
// of every benchmark request
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Debug("request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("stack", string(debug.Stack())))

				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				c.Abort()
			}
		}()
		c.Next()
	}
}

func (s *Server) bodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// bindErrorMessage converts binding failures into messages that use JSON
// field names instead of Go struct field names.
func bindErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		field := jsonFieldName(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", field, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

var camelBoundary = regexp.MustCompile("([a-z0-9])([A-Z])")

func jsonFieldName(field string) string {
	// Initialisms defeat the generic regex
	if field == "CPUSpinMs" {
		return "cpu_spin_ms"
	}
	return strings.ToLower(camelBoundary.ReplaceAllString(field, "${1}_${2}"))
}
