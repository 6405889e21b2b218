package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LoveWonYoung/vecu/config"
	"github.com/LoveWonYoung/vecu/metrics"
)

const shutdownTimeout = 5 * time.Second

// Run 启动网关与可选的 /metrics HTTP 服务，直到 ctx 结束或任一服务失败
func Run(ctx context.Context, cfg config.Gateway, h Handler, rec *metrics.Recorder, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := New(h,
		WithLogger(logger),
		WithMetrics(rec),
		WithRateLimit(cfg.FramesPerSecond, cfg.Burst),
	)

	errg, gctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return srv.Serve(gctx, ln)
	})

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rec.Handler())
		httpSrv := &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errg.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsListen).Msg("metrics listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		errg.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(sctx)
		})
	}

	return errg.Wait()
}
