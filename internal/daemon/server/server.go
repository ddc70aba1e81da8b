// Package server exposes the launcher's command/event bus over gRPC. The
// same port serves native gRPC (HTTP/2 cleartext) for launcherctl and
// gRPC-Web for the browser-based UI.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

// Server is the launcher's gRPC server.
type Server struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	listener   net.Listener
	host       string
	port       int
}

// New creates a new server listening on host:port.
// Pass port 0 for dynamic allocation.
func New(host string, port int, d Dispatcher) (*Server, error) {
	listener, err := (&net.ListenConfig{}).Listen(context.TODO(), "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	// Get actual port if dynamically allocated
	actualPort := listener.Addr().(*net.TCPAddr).Port

	grpcServer := grpc.NewServer()
	RegisterLauncherServer(grpcServer, &launcherService{d: d})

	web := grpcweb.WrapServer(grpcServer, grpcweb.WithOriginFunc(allowedOrigin))
	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case web.IsGrpcWebRequest(r), web.IsAcceptableGrpcCorsRequest(r):
			web.ServeHTTP(w, r)
		case r.ProtoMajor == 2 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc"):
			grpcServer.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	return &Server{
		grpcServer: grpcServer,
		httpServer: &http.Server{
			Handler:           h2c.NewHandler(mux, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		host:     host,
		port:     actualPort,
	}, nil
}

// allowedOrigin admits the bundled UI (file:// pages report "null") and
// pages served from the loopback interface.
func allowedOrigin(origin string) bool {
	if origin == "" || origin == "null" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Scheme == "file" || u.Scheme == "app"
}

// Host returns the host the server is bound to.
func (s *Server) Host() string {
	return s.host
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// Serve starts serving requests. This blocks until Stop is called.
func (s *Server) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
	s.grpcServer.Stop()
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()

	log.Info().Str("component", "server").Int("port", s.port).Msg("serving gRPC and gRPC-Web")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Stop()
		return <-errCh
	}
}
