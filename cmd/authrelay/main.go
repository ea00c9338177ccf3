package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gematik/authrelay/pkg/config"
	"github.com/gematik/authrelay/pkg/prettylog"
	"github.com/gematik/authrelay/pkg/relay"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/segmentio/ksuid"
)

const shutdownTimeout = 10 * time.Second

func ErrorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			slog.Error("Error", "error", err, "path", c.Path(), "remote_addr", c.RealIP(), "request_id", c.Response().Header().Get(echo.HeaderXRequestID))
		}
		return err
	}
}

func newServer(cfg *config.Config) (*echo.Echo, error) {
	binder, err := cfg.Binder()
	if err != nil {
		return nil, err
	}
	responder, err := cfg.Responder()
	if err != nil {
		return nil, err
	}

	ctl, err := relay.New(cfg.Relay(),
		relay.WithStateBinder(binder),
		relay.WithResponder(responder),
		relay.WithHTTPClient(&http.Client{Timeout: cfg.ExchangeTimeout}),
	)
	if err != nil {
		return nil, err
	}

	root := echo.New()
	root.HideBanner = true
	root.HidePort = true

	root.Use(
		middleware.Recover(),
		middleware.RequestIDWithConfig(middleware.RequestIDConfig{
			Generator: func() string {
				return ksuid.New().String()
			},
		}),
		middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogStatus:    true,
			LogURIPath:   true,
			LogMethod:    true,
			LogLatency:   true,
			LogRequestID: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				// query strings carry codes and tokens, only the path is logged
				slog.Info("request", "method", v.Method, "path", v.URIPath, "status", v.Status, "latency", v.Latency.String(), "request_id", v.RequestID)
				return nil
			},
		}),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSAllowOrigins,
		}),
		middleware.BodyLimit("64K"),
		ErrorLogMiddleware,
	)

	ctl.MountRoutes(root.Group(cfg.PathPrefix))

	if closer, ok := binder.(io.Closer); ok {
		root.Server.RegisterOnShutdown(func() {
			if err := closer.Close(); err != nil {
				slog.Error("Failed to close state binder", "error", err)
			}
		})
	}

	return root, nil
}

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	level, err := prettylog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(prettylog.New(os.Stderr, cfg.LogFormat, level))

	root, err := newServer(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Starting authrelay", "addr", cfg.Addr(), "prefix", cfg.PathPrefix, "state_mode", cfg.StateMode, "response_mode", cfg.ResponseMode)
		if err := root.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := root.Shutdown(shutdownCtx); err != nil {
		log.Fatal(err)
	}
	slog.Info("authrelay stopped")
}
