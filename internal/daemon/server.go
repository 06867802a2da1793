package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/andrelcm/pigeon/internal/client"
	"github.com/andrelcm/pigeon/internal/conn"
	"github.com/andrelcm/pigeon/internal/session"
	"github.com/andrelcm/pigeon/internal/store"
	"github.com/andrelcm/pigeon/internal/wire"
	"go.uber.org/zap"
)

// Server exposes the daemon's control API over the session's unix
// domain socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Session  string `json:"session"`
	State    string `json:"state"`
	Username string `json:"username,omitempty"`
	PID      int    `json:"pid"`
}

// NewServer creates the control server bound to the session's socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	mgr *conn.Manager,
	cl *client.Client,
	db *store.DB,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Session:  p.SessionName,
			State:    string(mgr.State()),
			Username: cl.Username(),
			PID:      os.Getpid(),
		})
	})
	mux.HandleFunc("GET /v1/rooms", func(w http.ResponseWriter, r *http.Request) {
		cached, err := db.ListRooms()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		rooms := make([]wire.Room, len(cached))
		for i, r := range cached {
			rooms[i] = r.ToWire()
		}
		writeJSON(w, http.StatusOK, rooms)
	})
	mux.HandleFunc("GET /v1/rooms/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", raw))
				return
			}
			limit = n
		}
		cached, err := db.RoomHistory(r.PathValue("id"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		msgs := make([]wire.Message, len(cached))
		for i, m := range cached {
			msgs[i] = m.ToWire()
		}
		writeJSON(w, http.StatusOK, msgs)
	})
	s.httpServer = &http.Server{Handler: mux}

	return s, nil
}

// Start begins serving control requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
