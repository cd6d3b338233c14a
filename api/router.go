// Package api assembles the HTTP surface of the service.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kilianp07/erg/api/jobs"
	"github.com/kilianp07/erg/api/projections"
	"github.com/kilianp07/erg/api/render"
	"github.com/kilianp07/erg/api/tariffs"
	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/schedule"
)

// StatusSource reports the schedule freshness for health checks.
type StatusSource interface {
	Status() schedule.Status
}

// Counter reports the number of registered jobs.
type Counter interface {
	Len() int
}

// Health is the /healthz document.
type Health struct {
	Status   string          `json:"status"`
	Schedule schedule.Status `json:"schedule"`
	Jobs     int             `json:"jobs"`
}

// Handlers groups the resource handlers mounted by NewRouter. Nil handlers
// are skipped.
type Handlers struct {
	Jobs        *jobs.Handler
	Projections *projections.Handler
	Tariffs     *tariffs.Handler
	Status      StatusSource
	JobCount    Counter
}

// NewRouter returns the chi router serving every endpoint of h.
func NewRouter(h Handlers, log logger.Logger) chi.Router {
	log = logger.OrNop(log)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		doc := Health{Status: "ok"}
		if h.Status != nil {
			doc.Schedule = h.Status.Status()
		}
		if h.JobCount != nil {
			doc.Jobs = h.JobCount.Len()
		}
		render.JSON(w, http.StatusOK, doc)
	})
	if h.Jobs != nil {
		h.Jobs.Routes(r)
	}
	if h.Projections != nil {
		h.Projections.Routes(r)
	}
	if h.Tariffs != nil {
		h.Tariffs.Routes(r)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		render.Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		render.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debugw("http request", map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
		})
	}
}

// Serve runs handler on addr until ctx is canceled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log logger.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Infof("serving api on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("api server shutdown: %v", err)
		return err
	}
	return nil
}
