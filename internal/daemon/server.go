// Package daemon serves the translation endpoint that bridge sessions
// connect to.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mathbridge/internal/logging"
	"mathbridge/internal/metrics"
	"mathbridge/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

var errTranslatorFailed = errors.New("translator failed")

type Options struct {
	Translator     Translator
	AllowedOrigins []string
	WriteTimeout   time.Duration
	Logger         *logging.Logger
	Metrics        *metrics.Registry
}

type Server struct {
	translator     Translator
	allowedOrigins []string
	writeTimeout   time.Duration
	logger         *logging.Logger
	metrics        *metrics.Registry
}

func NewServer(options Options) *Server {
	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = wsWriteTimeout
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	return &Server{
		translator:     options.Translator,
		allowedOrigins: options.AllowedOrigins,
		writeTimeout:   writeTimeout,
		logger:         options.Logger,
		metrics:        registry,
	}
}

// Handler routes the websocket endpoint at "/" alongside /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/", s.handleBridge)
	return mux
}

// ListenAndServe blocks until ctx is done or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	s.logger.Info("translation daemon listening", map[string]string{
		"addr": listener.Addr().String(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, must-revalidate")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := s.metrics.WritePrometheus(w); err != nil {
		s.logger.Warn("metrics write failed", map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, s.allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]string{"error": err.Error()})
		return
	}
	defer conn.Close()

	logger := s.logger.With(map[string]string{"remote": r.RemoteAddr})
	logger.Info("bridge connection established", nil)
	s.serveConn(r.Context(), conn, logger)
	logger.Info("bridge connection closed", nil)
}

// serveConn handles frames one at a time so replies leave in request order.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, logger *logging.Logger) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("bridge read ended", map[string]string{"error": err.Error()})
			}
			return
		}
		if messageType != websocket.TextMessage {
			logger.Debug("ignoring non-text frame", nil)
			continue
		}
		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			logger.Warn("ignoring invalid request", map[string]string{"error": err.Error()})
			continue
		}
		if err := s.handleRequest(ctx, conn, req, logger); err != nil {
			if errors.Is(err, errTranslatorFailed) {
				s.closeWithError(conn, logger)
				return
			}
			logger.Warn("bridge write failed", map[string]string{"error": err.Error()})
			return
		}
	}
}

// handleRequest returns an error when the connection must end: the
// connection is unusable, or the translator failed and the client would
// otherwise wait for a reply that never comes.
func (s *Server) handleRequest(ctx context.Context, conn *websocket.Conn, req protocol.Request, logger *logging.Logger) error {
	fields := map[string]string{"action": string(req.Action)}
	if req.ID != "" {
		fields["id"] = req.ID
	}
	started := time.Now()

	switch req.Action {
	case protocol.ActionShow:
		err := s.translator.Show(ctx, req.Content)
		s.metrics.RecordAction("daemon.show", time.Since(started), err)
		if err != nil {
			fields["error"] = err.Error()
			logger.Warn("show failed", fields)
			return fmt.Errorf("%w: %w", errTranslatorFailed, err)
		}
		logger.Debug("viewer started", fields)
		return nil
	case protocol.ActionTranslate:
		text, err := s.translator.Translate(ctx, req.Content)
		s.metrics.RecordAction("daemon.translate", time.Since(started), err)
		if err != nil {
			fields["error"] = err.Error()
			logger.Warn("translate failed", fields)
			return fmt.Errorf("%w: %w", errTranslatorFailed, err)
		}
		frame, err := protocol.EncodeReply(protocol.Reply{ID: req.ID, Text: text})
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
		logger.Debug("translation sent", fields)
		return nil
	}
	return nil
}

// closeWithError ends the connection with an internal-error close frame.
func (s *Server) closeWithError(conn *websocket.Conn, logger *logging.Logger) {
	message := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "translator failed")
	if err := conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(s.writeTimeout)); err != nil {
		logger.Debug("close frame not sent", map[string]string{"error": err.Error()})
	}
}

// isOriginAllowed accepts any origin when no list is configured, since the
// bridge runs inside arbitrary pages.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if originHost == "" {
		return false
	}
	for _, allowedOrigin := range allowed {
		if allowedOrigin == "*" || strings.EqualFold(origin, allowedOrigin) || strings.EqualFold(originHost, allowedOrigin) {
			return true
		}
	}
	return false
}
