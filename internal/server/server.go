// Package server runs the HTTP and optional gRPC listeners until the
// context is cancelled, then drains them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
)

const DefaultShutdownTimeout = 15 * time.Second

type Options struct {
	HTTPAddr string
	// GRPCAddr is empty when gRPC is disabled.
	GRPCAddr        string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

type Server struct {
	http    *http.Server
	grpc    *grpc.Server
	opts    Options
	closers []func()
	logger  *slog.Logger
}

func New(handler http.Handler, grpcSrv *grpc.Server, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
		},
		grpc:   grpcSrv,
		opts:   opts,
		logger: opts.Logger,
	}
}

// OnShutdown registers fn to run after the listeners have drained, in
// reverse registration order.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Run listens on the configured addresses and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", s.opts.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", s.opts.HTTPAddr, err)
	}
	var grpcLis net.Listener
	if s.grpc != nil && s.opts.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", s.opts.GRPCAddr)
		if err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("listen grpc %s: %w", s.opts.GRPCAddr, err)
		}
	}
	return s.Serve(ctx, httpLis, grpcLis)
}

// Serve serves on the given listeners; grpcLis may be nil. It returns nil
// after a clean shutdown triggered by ctx, or the first serve error.
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	errc := make(chan error, 2)

	s.logger.Info("http listening", "addr", httpLis.Addr().String())
	go func() {
		if err := s.http.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	if grpcLis != nil && s.grpc != nil {
		s.logger.Info("grpc listening", "addr", grpcLis.Addr().String())
		go func() {
			if err := s.grpc.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case serveErr = <-errc:
		s.logger.Error("server failed", "err", serveErr)
	}
	s.shutdown()
	return serveErr
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", "err", err)
		_ = s.http.Close()
	}
	if s.grpc != nil {
		done := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpc.Stop()
			<-done
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
