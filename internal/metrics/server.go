package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"cdpbridge/internal/logger"
	"cdpbridge/pkg/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider 提供通道状态
type StatusProvider interface {
	Channels() []model.ChannelStatus
}

// NewRouter 状态接口路由：/healthz /channels /metrics
func NewRouter(sp StatusProvider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sp.Channels())
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Serve 启动状态服务，ctx 结束时关闭
func Serve(ctx context.Context, addr string, h http.Handler, l logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	go func() {
		l.Info("状态服务已启动", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Err(err, "状态服务异常退出")
		}
	}()
	return nil
}
