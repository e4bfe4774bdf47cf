package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edusched/src-server/route"
	"edusched/src-server/scheduler"
	"edusched/src-server/utils"
)

// raised or lowered from LOG_LEVEL once the config is read
var logLevel = new(slog.LevelVar)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Info(err.Error())
	}
	logLevel.Set(slog.LevelDebug)
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.RFC1123Z,
		}),
	))
}

func main() {
	as := utils.NewAppState()
	logLevel.Set(as.Config.GetLogLevel())

	// store latency gauges
	go as.Metric.Run(as.Ctx, as.Store, as.Config.GetMetricInterval())

	// keep recurring series materialised up to the horizon
	horizonCron, err := scheduler.StartHorizon(
		scheduler.NewHorizonJob(as.Ctx, as.Engine),
		as.Config.GetHorizonCron(),
		as.Config.GetLocation(),
	)
	if err != nil {
		slog.Error("can't schedule horizon job", "error", err)
		os.Exit(1)
	}
	as.OnShutdown(func() { <-horizonCron.Stop().Done() })

	// http server
	muxer := route.NewMuxer(as)
	muxer.Handle("GET /metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              ":" + as.Config.GetPort(),
		Handler:           route.LogMiddleware(muxer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	as.OnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("can't shut down HTTP server cleanly", "error", err)
		}
	})
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("cannot start HTTP server", "error", err)
			as.AppCloseSignalChan <- syscall.SIGTERM
		}
	}()

	slog.Info("app is now running, press Ctrl+C to exit", "port", as.Config.GetPort())

	signal.Notify(as.AppCloseSignalChan, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-as.AppCloseSignalChan
	slog.Info("Gracefully shutting down...")
	as.GracefulShutdown()
}
