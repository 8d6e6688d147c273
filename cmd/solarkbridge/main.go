package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/solarkbridge/pkg/bridge"
	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/mqtt"
	"github.com/raterudder/solarkbridge/pkg/server"
	"github.com/raterudder/solarkbridge/pkg/solark"
	"github.com/raterudder/solarkbridge/pkg/storage"
)

func main() {
	// init packages
	c := solark.Configured()
	s := storage.Configured()
	b := bridge.Configured(c, s)
	pub := mqtt.Configured(b)

	// init server
	srv := server.Configured(b, s)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("plantID", b.PlantID())))
	eg, ctx := errgroup.WithContext(ctx)

	if pub.Enabled() {
		b.AddPublisher(pub)
		eg.Go(func() error {
			return pub.Run(ctx)
		})
	} else {
		log.Ctx(ctx).InfoContext(ctx, "mqtt disabled, no broker configured")
	}
	eg.Go(func() error {
		return b.Run(ctx)
	})
	eg.Go(func() error {
		return srv.Run(ctx)
	})

	if err := eg.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "bridge failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "bridge exited cleanly")
}
