package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokengate/internal/models"
)

// MetricsServer exposes Prometheus metrics on their own listener so scrapes
// never pass through the rate limited router.
type MetricsServer struct {
	server *http.Server
	path   string
}

// NewMetricsServer serves promhttp at cfg.Path on cfg.Port. With no exporter
// installed the path answers 404.
func NewMetricsServer(cfg models.MetricsConfig, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()

	if provider.MetricsEnabled() {
		mux.Handle(cfg.Path, promhttp.Handler())
	}

	return &MetricsServer{
		path: cfg.Path,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (ms *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", ms.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return ms.Serve(ln)
}

// Serve accepts connections on ln.
func (ms *MetricsServer) Serve(ln net.Listener) error {
	slog.Info("Starting metrics server", "addr", ln.Addr().String(), "path", ms.path)
	return ms.server.Serve(ln)
}

func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
