// Command atmosphere serves the shared presence lounge: a websocket room that
// broadcasts who is online and where, plus lookups that dress a location with
// its country, a poetic name and the current weather.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/chilledoj/atmosphere/internal/httpapi"
	"github.com/chilledoj/atmosphere/internal/lookup"
	"github.com/chilledoj/atmosphere/internal/metrics"
	"github.com/chilledoj/atmosphere/internal/presence"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newApp(run).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runFunc func(ctx context.Context, opts options, sl *slog.Logger) error

func newApp(run runFunc) *cli.App {
	var opts options
	return &cli.App{
		Name:  "atmosphere",
		Usage: "shared presence lounge server",
		Flags: opts.flags(),
		Action: func(c *cli.Context) error {
			sl, err := newLogger(c.App.Writer, opts.LogLevel, opts.LogFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(sl)

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, opts, sl)
		},
	}
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	ho := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, ho)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, ho)), nil
	default:
		return nil, fmt.Errorf("log format %q: want text or json", format)
	}
}

func run(ctx context.Context, opts options, sl *slog.Logger) error {
	m := metrics.New()

	lookups, err := lookup.New(lookup.Config{
		GeocodeURL:    opts.GeocodeURL,
		WeatherURL:    opts.WeatherURL,
		APIKey:        opts.APIKey,
		OpenAIBaseURL: opts.OpenAIBaseURL,
		PoetModel:     opts.PoetModel,
		Timeout:       opts.LookupTimeout,
		Metrics:       m,
		Slogger:       sl,
	})
	if err != nil {
		return err
	}
	defer lookups.Close()

	space := presence.NewSpace(ctx, "lounge", presence.NewRegistry(), presence.Options{
		IdleTimeout: opts.IdleTimeout,
		Metrics:     m,
		Slogger:     sl,
	})

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", opts.Port),
		Handler: httpapi.NewRouter(space, lookups, httpapi.Options{
			AllowedOrigins: opts.FrontendURL.Value(),
			Metrics:        m,
			Slogger:        sl,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		space.Start()
		return nil
	})
	g.Go(func() error {
		sl.Info("listening", "addr", srv.Addr, "poet", opts.APIKey != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sl.Info("shutting down rooms")
		space.Stop()
		sl.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	sl.Info("shutdown complete")
	return err
}
