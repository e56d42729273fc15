package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lipcheck/lipcheck/internal/pipelines"
	"github.com/lipcheck/lipcheck/internal/runs"
	"github.com/lipcheck/lipcheck/internal/verify"
)

// Verifier is the part of verify.Service the handlers use.
type Verifier interface {
	VerifyVideo(ctx context.Context, upload io.Reader, filename string, opts ...verify.Option) (*verify.VideoResult, error)
	VerifyImage(ctx context.Context, upload io.Reader, filename string) (*verify.ImageResult, error)
	VideoAvailable() bool
	ImageAvailable() bool
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr           string
	Verifier       Verifier
	Runs           runs.Repository
	Doctor         *pipelines.Monitor
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
	MaxUploadBytes int64
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: router,
			// Uploads are streamed into the workspace and verification runs
			// inside the handler, so only headers get a read deadline.
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
