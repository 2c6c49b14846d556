// Package gateway serves the chat, model and PDF HTTP API.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/challengechat/challengechat/internal/agent"
	"github.com/challengechat/challengechat/internal/config"
	"github.com/challengechat/challengechat/internal/documents"
	"github.com/challengechat/challengechat/internal/stream"
)

// ChatRunner starts a turn and streams its fragments.
type ChatRunner interface {
	Run(ctx context.Context, turn agent.Turn) (<-chan agent.Fragment, error)
}

// PDFSource resolves a paper id to a local PDF file.
type PDFSource interface {
	Download(ctx context.Context, id string) (string, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	CORSOrigins       []string

	// ModelsFile is served verbatim by the models endpoint.
	ModelsFile string
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Chat      ChatRunner
	Stream    *stream.Aggregator
	Documents PDFSource

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	config  Config
	chat    ChatRunner
	stream  *stream.Aggregator
	docs    PDFSource
	handler http.Handler
	logger  *slog.Logger
}

// NewServer builds the router and middleware chain.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Chat == nil {
		return nil, errors.New("gateway: chat runner is required")
	}
	if deps.Documents == nil {
		return nil, errors.New("gateway: document source is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Stream == nil {
		deps.Stream = stream.NewAggregator(nil, deps.Logger)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{
		config: cfg,
		chat:   deps.Chat,
		stream: deps.Stream,
		docs:   deps.Documents,
		logger: deps.Logger.With("component", "gateway"),
	}

	router := mux.NewRouter()
	router.Use(requestID, logging(s.logger), recovery(s.logger))
	router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat/stream", s.handleChatStream).Methods(http.MethodPost)
	api.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/model-config/", s.handleModels).Methods(http.MethodGet)

	pdf := api.PathPrefix("/pdf").Subrouter()
	pdf.Use(pdfFrame)
	pdf.HandleFunc("/{entry_id}", s.handlePDF).Methods(http.MethodGet)
	pdf.HandleFunc("/{entry_id}/", s.handlePDF).Methods(http.MethodGet)

	s.handler = cors(cfg.CORSOrigins)(router)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r.Body)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, verr.Fields)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	turn := agent.Turn{
		ThreadID:    req.ThreadID,
		Deployment:  req.Model,
		Temperature: req.Temperature,
		Message:     req.Message,
	}

	ctx := r.Context()
	fragments, err := s.chat.Run(ctx, turn)
	if err != nil {
		// The turn never started; report it through the stream so the
		// client sees the fallback text and the usage log gets its row.
		failed := make(chan agent.Fragment, 1)
		failed <- agent.Fragment{Err: err}
		close(failed)
		fragments = failed
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.stream.Run(ctx, turn, fragments, w)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	raw, err := config.LoadModelsRaw(s.config.ModelsFile)
	switch {
	case errors.Is(err, config.ErrModelsFileNotFound):
		writeJSON(w, http.StatusOK, map[string]string{"error": "Config file not found"})
	case err != nil:
		s.logger.ErrorContext(r.Context(), "failed to read model config", "path", s.config.ModelsFile, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Config file is invalid"})
	default:
		writeJSON(w, http.StatusOK, raw)
	}
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["entry_id"]
	path, err := s.docs.Download(r.Context(), id)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, documents.ErrNotFound) {
			msg = fmt.Sprintf("Paper with entry_id '%s' not found", id)
		}
		s.logger.WarnContext(r.Context(), "pdf unavailable", "entry_id", id, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeContent(w, r, id+".pdf", info.ModTime(), f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}
