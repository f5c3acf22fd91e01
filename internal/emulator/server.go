package emulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qiskit-community/qrmi/internal/observability"
)

// Server serves an Emulator over HTTP.
type Server struct {
	emulator   *Emulator
	httpServer *http.Server
	listener   net.Listener
	logger     observability.Logger
	config     *ServerConfig
	mu         sync.RWMutex
	running    bool
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address        string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	// MaxRequestBodySize is the maximum allowed request body size in bytes.
	// Set to 0 to disable the limit.
	MaxRequestBodySize int64
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:            "127.0.0.1",
		Port:               8089,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxRequestBodySize: 10 << 20,
	}
}

// NewServer creates a server for emu.
func NewServer(emu *Emulator, config *ServerConfig, logger observability.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Server{
		emulator: emu,
		logger:   logger,
		config:   config,
	}
}

// maxRequestBodySizeMiddleware limits request bodies to the configured size.
func (s *Server) maxRequestBodySizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxRequestBodySize)
		c.Next()
	}
}

// Listen binds the listening socket. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	addr := net.JoinHostPort(s.config.Address, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start serves until Stop is called or the server fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	var middleware []gin.HandlerFunc
	if s.config.MaxRequestBodySize > 0 {
		middleware = append(middleware, s.maxRequestBodySizeMiddleware())
	}
	s.httpServer = &http.Server{
		Handler:        s.emulator.Handler(middleware...),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return ctx },
	}
	s.running = true
	ln := s.listener
	s.mu.Unlock()

	s.logger.Info("starting emulator",
		observability.String("address", ln.Addr().String()),
		observability.String("ionq_base_url", "http://"+ln.Addr().String()+IonQPrefix),
		observability.Duration("read_timeout", s.config.ReadTimeout),
	)

	err := s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping emulator")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.listener = nil
	s.mu.Unlock()
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
