package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/server"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

// statusStreamInterval is the cadence of snapshots on the WebSocket stream.
const statusStreamInterval = 1 * time.Second

// StatusProvider returns the current meter snapshot.
type StatusProvider interface {
	Status() types.Status
}

// Server is the optional HTTP status interface.
type Server struct {
	meter   StatusProvider
	version *VersionChecker
	ctx     context.Context
}

// NewServer returns a Server reporting the state of meter. Streams end when ctx is canceled.
func NewServer(ctx context.Context, meter StatusProvider, version *VersionChecker) *Server {
	return &Server{meter: meter, version: version, ctx: ctx}
}

// status returns the meter snapshot completed with version information.
func (s *Server) status() types.Status {
	st := s.meter.Status()
	if s.version != nil {
		st.Version = s.version.Info()
	} else {
		st.Version = types.VersionInfo{Current: normalizeVersion(Version), Commit: Commit}
	}
	return st
}

// SetupRoutes returns an [http.Handler] with all status routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return server.SecurityHeaders(mux)
}

// handleStatus returns the current snapshot as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		server.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	server.WriteJSON(w, http.StatusOK, s.status())
}

// handleWebSocket streams the snapshot until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	server.StreamSnapshots(s.ctx, conn, statusStreamInterval, func() any { return s.status() })
}

// Start listens on addr in the background and returns the server for shutdown.
func (s *Server) Start(addr string) *http.Server {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("status server listening", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server failed", "error", err)
		}
	}()

	return httpServer
}
