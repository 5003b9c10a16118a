// Package console serves a local browser console for the three views:
// JSON endpoints over the controllers and a WebSocket stream of their
// events.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/embedlink/embedlink/internal/events"
	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/logging"
	"github.com/embedlink/embedlink/internal/operation"
)

// maxUploadMemory bounds the multipart form held in memory per request.
const maxUploadMemory = 32 << 20

// ImageSource fetches result images from the remote service.
type ImageSource interface {
	BaseURL() string
	Configured() bool
	FetchImage(ctx context.Context, path string, w io.Writer) (int64, string, error)
}

// PreviewSource resolves preview handles to data URIs.
type PreviewSource interface {
	URI(h intake.PreviewHandle) (string, bool)
}

// Deps are the collaborators the console drives.
type Deps struct {
	Images   ImageSource
	Previews PreviewSource
	Training *operation.Training
	Search   *operation.Search
	Upload   *operation.Upload
	Bus      *events.EventBus
	Logger   *logging.Logger
}

// Server holds the console dependencies.
type Server struct {
	deps   Deps
	hub    *Hub
	logger *logging.Logger
}

// NewServer creates a console server.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.Named("console")
	return &Server{deps: deps, hub: NewHub(logger), logger: logger}
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router sets up the console routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/config", s.handleGetConfig)

		r.Get("/training", s.handleGetTraining)
		r.Post("/training", s.handleStartTraining)
		r.Delete("/training", s.handleResetTraining)

		r.Get("/search", s.handleGetSearch)
		r.Put("/search/selection", s.handleSelectQuery)
		r.Post("/search", s.handleSubmitSearch)
		r.Delete("/search", s.handleResetSearch)

		r.Get("/upload", s.handleGetUpload)
		r.Post("/upload/items", s.handleAddItems)
		r.Delete("/upload/items/{itemID}", s.handleRemoveItem)
		r.Post("/upload", s.handleSubmitUpload)
		r.Delete("/upload", s.handleResetUpload)

		r.Get("/previews/{handle}", s.handleGetPreview)
		r.Get("/image", s.handleGetImage)
	})

	r.Get("/ws", s.hub.ServeWs)

	return r
}

// Run serves the console on addr until ctx ends, then shuts down.
func (s *Server) Run(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.deps.Bus != nil {
		ch := s.deps.Bus.SubscribeAll()
		defer s.deps.Bus.UnsubscribeAll(ch)
		go s.hub.Run(ctx, ch)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Console listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("console server: %w", err)
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("console shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}
