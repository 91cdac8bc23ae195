// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cafeteria/internal/pkg/nacos"
	"cafeteria/internal/tracing"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
}

// AppInfo carries what differs between services started by StartService.
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)
	// OnShutdown 在 HTTP 服务停止后释放服务资源
	OnShutdown func(ctx context.Context)
}

// StartService runs the HTTP server until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down in reverse start order. Nacos registration only happens when server addresses are configured.
func StartService(ctx context.Context, cfg *Config, info AppInfo) error {
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return errors.Wrap(err, "init tracer provider")
	}

	var (
		registry *nacos.Client
		ip       string
	)
	if cfg.Infra.Nacos.ServerAddrs != "" {
		registry, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return err
		}
		ip, err = outboundIP()
		if err != nil {
			return errors.Wrap(err, "get outbound ip")
		}
		if err := registry.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("service", info.ServiceName).Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()

		if registry != nil {
			if err := registry.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				log.Error().Err(err).Msg("deregister from nacos")
			}
			registry.Close()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shut down http server")
		}
		if info.OnShutdown != nil {
			info.OnShutdown(shutdownCtx)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shut down tracer provider")
		}
		log.Info().Str("service", info.ServiceName).Msg("gracefully shut down")
		return nil
	})

	return g.Wait()
}

// outboundIP 返回本机对外通信使用的地址，UDP 拨号不会真正发包
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
