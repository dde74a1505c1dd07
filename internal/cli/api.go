package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	redisstore "github.com/ramiqadoumi/engageflow/internal/redis"
	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
	"github.com/ramiqadoumi/engageflow/services/api"
	"github.com/ramiqadoumi/engageflow/services/api/handler"
	"github.com/ramiqadoumi/engageflow/services/api/middleware"
)

const rateWindow = time.Minute

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the operator REST API",
	RunE:  runAPI,
}

func init() {
	apiCmd.Flags().String("http-port", "8080", "HTTP server port")
	apiCmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	apiCmd.Flags().Int("rate-limit", 120, "requests per owner per minute; 0 disables limiting")

	bindFlag("http_port", apiCmd.Flags(), "http-port")
	bindFlag("jwt_secret", apiCmd.Flags(), "jwt-secret")
	bindFlag("api_rate_limit", apiCmd.Flags(), "rate-limit")
}

func runAPI(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("api needs jwt_secret")
	}
	ctx, cancel := signalContext(buildLogger(cfg.LogLevel, "api"))
	defer cancel()

	a, err := newApp(ctx, cfg, "api")
	if err != nil {
		return err
	}
	defer a.close()

	// Execute from the API runs inline, so the engine needs generation and submission.
	engine, err := a.engine(true)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	var limiter middleware.Limiter = middleware.NewLocalLimiter(cfg.APIRateLimit, rateWindow)
	if a.redis != nil {
		limiter = redisstore.NewRateLimiter(a.redis, cfg.APIRateLimit, rateWindow)
	}
	if cfg.APIRateLimit == 0 {
		limiter = unlimited{}
	}

	h := handler.NewREST(a.store, engine, newIntakeService(a, engine), a.ready, a.logger)
	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(h, []byte(cfg.JWTSecret), limiter, a.logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerateTimeout + cfg.SubmitTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, a.ready, a.logger)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("api HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		a.logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	a.logger.Info("stopped")
	return nil
}

type unlimited struct{}

func (unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
func (unlimited) Limit() int                                  { return 0 }
