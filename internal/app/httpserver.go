package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/shuttle-van-bot/internal/logging"
	"github.com/Spok95/shuttle-van-bot/internal/metrics"
)

type HTTPServer struct {
	srv *http.Server
}

// Routes — /healthz (пинг БД) и /metrics.
func Routes(db *sql.DB) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
		defer cancel()
		t0 := time.Now()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "db not ok: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		metrics.ObserveDBPing(time.Since(t0))
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func StartHTTP(ctx context.Context, addr string, db *sql.DB, log *zap.Logger) *HTTPServer {
	log = logging.OrNop(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           Routes(db),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		// закрываем аккуратно при Shutdown
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	log.Info("http listening", zap.String("addr", addr))
	return &HTTPServer{srv: srv}
}
