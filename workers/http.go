package workers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gomidenbridge/workers/handlers"
)

func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Options("/*", CORSHeaders)

	r.Get("/health", h.HealthCheck)
	r.Get("/state", h.State)
	r.Get("/exits/pending", h.PendingExits)
	r.Route("/chains/{chainID}", func(r chi.Router) {
		r.Get("/watermark", h.ChainWatermark)
		r.Get("/latest-exit", h.LatestExit)
		r.Get("/signer-balance", h.SignerBalance)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	return r
}

// Worker_HTTP serves the diagnostics API until ctx is done, then shuts the
// server down gracefully.
func Worker_HTTP(ctx context.Context, port int, handler http.Handler, log zerolog.Logger) error {
	log = log.With().Str("component", "http").Logger()
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	log.Info().Int("port", port).Msg("HTTP service started")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, X-Requested-With")
}
