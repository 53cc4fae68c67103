// Package server exposes the device state over HTTP: a JSON status snapshot,
// a websocket telemetry feed, a multipart MJPEG preview and a small control
// API standing in for an on-device UI.
package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/gamepad"
	"github.com/tg/roverlink/internal/node"
	"github.com/tg/roverlink/internal/pipeline"
	"github.com/tg/roverlink/internal/util"
)

// Backend is the device the server reports on.
type Backend interface {
	Status() node.Status
	SetControl(accel, direction int)
	SetAzimuth(azimuth float64) bool
	Gamepad() *pipeline.Broadcaster[gamepad.Snapshot]
	Preview() *pipeline.Broadcaster[[]byte]
}

// StatusServer serves the status surface.
type StatusServer struct {
	addr      string
	backend   Backend
	startTime time.Time
	interval  time.Duration

	httpServer *http.Server
}

// New creates a server for backend listening on addr.
func New(addr string, backend Backend) *StatusServer {
	s := &StatusServer{
		addr:      addr,
		backend:   backend,
		startTime: time.Now(),
		interval:  250 * time.Millisecond,
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: loggingMiddleware(s.Router()),
		// No write timeout for streaming connections
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *StatusServer) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/control", s.handleControl).Methods(http.MethodPost)
	api.HandleFunc("/orientation", s.handleOrientation).Methods(http.MethodPost)
	api.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	r.HandleFunc("/ws/telemetry", s.handleTelemetry).Methods(http.MethodGet)
	r.HandleFunc("/stream/mjpeg", s.handleMJPEG).Methods(http.MethodGet)
	return r
}

// Serve listens and serves until ctx is done.
func (s *StatusServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}
	util.GetLogger().Info("Status server listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { s.Stop() })
	defer stop()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status server failed")
	}
	return nil
}

// Stop shuts the server down, closing streaming connections after a short
// grace period.
func (s *StatusServer) Stop() error {
	logger := util.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Status server shutdown error", "error", err)
		// Force close if graceful shutdown fails
		if err := s.httpServer.Close(); err != nil {
			logger.Warn("Status server force close error", "error", err)
		}
	}
	logger.Info("Status server stopped")
	return nil
}

// Uptime returns the time since the server was created.
func (s *StatusServer) Uptime() time.Duration {
	return time.Since(s.startTime)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http.Hijacker interface is not supported")
	}
	return hj.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		util.GetLogger().Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
			"status", lw.status, "bytes", lw.length, "duration", time.Since(start), "remote", r.RemoteAddr)
	})
}
