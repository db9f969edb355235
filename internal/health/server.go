package health

import (
	"context"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tabledep/internal/model"
)

// StatusFunc reports the current dependency status.
type StatusFunc func() model.Status

var globalStatus atomic.Value

// SetStatusFunc sets the status source used by /health.
func SetStatusFunc(fn StatusFunc) {
	globalStatus.Store(fn)
}

func currentStatus() (model.Status, bool) {
	fn, ok := globalStatus.Load().(StatusFunc)
	if !ok || fn == nil {
		return model.StatusNone, false
	}
	return fn(), true
}

// NewMux returns the health, metrics and pprof routes.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		status, ok := currentStatus()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if ok && status == model.StatusStoppedDueToError {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_, _ = w.Write([]byte(status.String()))
	})

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start launches the health endpoint at the given address.
func Start(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: NewMux(),
	}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	go func() {
		logger.Info("health server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server error", zap.Error(err))
		}
	}()
}
