// Command wanderer connects simulated visitors to an atmosphere server. Each
// one reports a random location, then drifts a little every interval.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/chilledoj/atmosphere/internal/protocol"
	"github.com/chilledoj/atmosphere/internal/wsclient"
)

type options struct {
	URL      string
	Clients  int
	Interval time.Duration
	Drift    float64
}

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
		Name:  "wanderer",
		Usage: "simulate visitors drifting around an atmosphere server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Usage:       "websocket endpoint",
				Value:       "ws://localhost:3030/ws",
				EnvVars:     []string{"WANDERER_URL"},
				Destination: &opts.URL,
			},
			&cli.IntFlag{
				Name:        "clients",
				Usage:       "number of simulated visitors",
				Value:       5,
				Destination: &opts.Clients,
			},
			&cli.DurationFlag{
				Name:        "interval",
				Usage:       "time between location updates",
				Value:       2 * time.Second,
				Destination: &opts.Interval,
			},
			&cli.Float64Flag{
				Name:        "drift",
				Usage:       "largest step in degrees per update",
				Value:       0.5,
				Destination: &opts.Drift,
			},
		},
		Action: func(c *cli.Context) error {
			if opts.Clients <= 0 {
				return fmt.Errorf("clients must be positive, got %d", opts.Clients)
			}
			if opts.Interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", opts.Interval)
			}
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, opts, slog.Default())
		},
	}
}

func run(ctx context.Context, opts options, sl *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range opts.Clients {
		w := &wanderer{
			name: fmt.Sprintf("wanderer-%d", i),
			loc:  randomLocation(),
			opts: opts,
		}
		g.Go(func() error {
			return w.wander(ctx, sl.With("wanderer", w.name))
		})
	}
	return g.Wait()
}

type wanderer struct {
	name string
	loc  protocol.Location
	opts options
}

func (w *wanderer) wander(ctx context.Context, sl *slog.Logger) error {
	conn, err := wsclient.Dial(ctx, w.opts.URL)
	if err != nil {
		return fmt.Errorf("%s dial: %w", w.name, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go w.listen(conn, sl)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		if err := w.report(conn); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s report: %w", w.name, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.drift()
		}
	}
}

func (w *wanderer) report(conn io.Writer) error {
	frame, err := protocol.Encode(protocol.EventUpdateLocation, w.loc)
	if err != nil {
		return err
	}
	return wsutil.WriteClientText(conn, frame)
}

func (w *wanderer) listen(conn io.ReadWriter, sl *slog.Logger) {
	for {
		msg, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				sl.Debug("read ended", "err", err)
			}
			return
		}
		env, err := protocol.Decode(msg)
		if err != nil {
			sl.Warn("undecodable frame", "err", err)
			continue
		}
		switch env.Event {
		case protocol.EventOnlineCount:
			var n int
			if err := json.Unmarshal(env.Data, &n); err != nil {
				sl.Warn("undecodable online_count", "err", err, "data", string(env.Data))
				continue
			}
			sl.Info("online", "count", n)
		case protocol.EventError:
			var p protocol.ErrorPayload
			if err := json.Unmarshal(env.Data, &p); err != nil {
				sl.Warn("undecodable error frame", "err", err, "data", string(env.Data))
				continue
			}
			sl.Warn("rejected", "code", p.Code, "message", p.Message)
		}
	}
}

func (w *wanderer) drift() {
	w.loc.Lat = clamp(w.loc.Lat+(rand.Float64()*2-1)*w.opts.Drift, -90, 90)
	w.loc.Lng = wrap(w.loc.Lng + (rand.Float64()*2-1)*w.opts.Drift)
}

func randomLocation() protocol.Location {
	return protocol.Location{
		Lat: rand.Float64()*140 - 70,
		Lng: rand.Float64()*360 - 180,
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

// wrap keeps a longitude within [-180, 180).
func wrap(lng float64) float64 {
	for lng >= 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}
