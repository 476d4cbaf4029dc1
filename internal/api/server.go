package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bridgeq/internal/ports"
	"bridgeq/internal/wire"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct {
	router *chi.Mux
	q      ports.Queue
	inv    ports.Inventory
}

// NewServer exposes a queue backend over the JSON API. A non-empty token
// is required as a bearer credential on every request.
func NewServer(backend ports.Backend, token string) *Server {
	s := &Server{router: chi.NewRouter(), q: backend, inv: backend}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	if token != "" {
		s.router.Use(bearerAuth(token))
	}

	s.router.Route(wire.Prefix, func(r chi.Router) {
		r.Get("/functions", s.listFunctions)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.submitTask)
			r.Get("/", s.listTasks)
			r.Get("/{id}", s.getTask)
			r.Delete("/{id}", s.removeTask)
			r.Post("/{id}/cancel", s.cancelTask)
			r.Post("/{id}/complete", s.completeTask)
			r.Post("/{id}/fail", s.failTask)
			r.Post("/{id}/retry", s.retryTask)
			r.Post("/{id}/response", s.updateResponse)
		})

		r.Post("/bridges/{bridge}/next", s.nextTask)

		r.Route("/teams/{team}", func(r chi.Router) {
			r.Post("/machines", s.createMachine)
			r.Get("/machines/{name}", s.getMachine)
			r.Post("/storages", s.createStorage)
			r.Get("/storages/{name}", s.getStorage)
		})
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on the given port until ctx is cancelled, then drains
// in-flight requests for up to 30 seconds.
func (s *Server) Run(ctx context.Context, port int) error {
	httpServer := http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		done <- httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	want := "Bearer " + token
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != want {
				writeError(w, http.StatusUnauthorized, "permission_denied", "missing or invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
