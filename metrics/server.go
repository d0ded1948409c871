package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	migrator "github.com/daybook/migrate-orchestrator"
)

// StateFunc reports the current dispatcher state for the health endpoint.
type StateFunc func() migrator.State

// Server exposes /metrics and /healthz. The health endpoint answers the app
// role's liveness probe: it reports 200 only once the dispatcher is ready,
// so a replica stuck migrating or failed never reports healthy.
type Server struct {
	server  *http.Server
	errChan chan error
}

// NewServer creates a server on the specified address.
// Example address: ":9090" or "localhost:9090". A nil stateFn makes
// /healthz unconditionally healthy.
func NewServer(addr string, stateFn StateFunc) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := migrator.StateReady
		if stateFn != nil {
			state = stateFn()
		}
		if state != migrator.StateReady {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, string(state))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		errChan: make(chan error, 1),
	}
}

// Start starts the server in a goroutine.
// Returns immediately. Check Err() to detect startup failures.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.errChan <- err
		}
	}()
}

// Err returns any error that occurred during server startup or operation.
// Non-blocking; returns nil if no error has occurred.
func (s *Server) Err() error {
	select {
	case err := <-s.errChan:
		return err
	default:
		return nil
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
