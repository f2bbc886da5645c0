// Package app assembles and runs the gate service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	platformotel "github.com/lanternfest/platform/internal/platform/otel"
	"github.com/lanternfest/platform/internal/services/gate/adminsession"
	"github.com/lanternfest/platform/internal/services/gate/engine"
	"github.com/lanternfest/platform/internal/services/gate/httpapi"
	"github.com/lanternfest/platform/internal/services/gate/otp"
	"github.com/lanternfest/platform/internal/services/gate/passcode"
	"github.com/lanternfest/platform/internal/services/gate/qrtoken"
	gatesqlite "github.com/lanternfest/platform/internal/services/gate/storage/sqlite"
)

const serviceName = "gate"

// Server hosts the gate HTTP service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *gatesqlite.Store
}

// New creates a configured gate server listening on the provided address.
func New(addr, dbPath string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openGateStore(dbPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	qrCodec := qrtoken.NewCodec(qrtoken.LoadConfigFromEnv())
	sessionCodec := adminsession.NewCodec(adminsession.LoadConfigFromEnv())
	otpService := otp.NewService(passcode.NewStore(), nil, otp.LoadConfigFromEnv())
	checkins := engine.New(store, store, store, store, qrCodec)

	handler := httpapi.New(checkins, store, otpService, sessionCodec, qrCodec)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: otelhttp.NewHandler(mux, serviceName)},
		store:      store,
	}, nil
}

// Addr returns the listener address for the gate server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a gate server until the context ends.
func Run(ctx context.Context, addr, dbPath string) error {
	shutdownTracing, err := platformotel.Setup(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("shutdown tracing: %v", err)
		}
	}()

	server, err := New(addr, dbPath)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gate server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("gate server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdown()
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func (s *Server) closeStore() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close gate store: %v", err)
		}
	}
}

func openGateStore(path string) (*gatesqlite.Store, error) {
	if strings.TrimSpace(path) == "" {
		path = filepath.Join("data", "gate.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := gatesqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gate sqlite store: %w", err)
	}
	return store, nil
}
