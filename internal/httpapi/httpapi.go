// Package httpapi exposes the presence space and the atmosphere lookups over
// HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chilledoj/atmosphere"
	"github.com/chilledoj/atmosphere/internal/lookup"
	"github.com/chilledoj/atmosphere/internal/metrics"
	"github.com/chilledoj/atmosphere/internal/presence"
)

const HealthMessage = "Atmosphere Server is Online"

// Presence is the live space as seen from HTTP.
type Presence interface {
	Snapshot() presence.Snapshot
	HandleSocket(onError atmosphere.ErrorHandler) http.HandlerFunc
}

// Lookups answers the atmosphere endpoints. Implementations never fail; they
// substitute fallbacks instead.
type Lookups interface {
	Place(ctx context.Context, lat, lng float64) lookup.Place
	Weather(ctx context.Context, lat, lng float64) lookup.Weather
	Vibe(ctx context.Context, count int) lookup.Vibe
}

type Options struct {
	// AllowedOrigins defaults to any origin.
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Slogger        *slog.Logger
}

type api struct {
	space   Presence
	lookups Lookups
	sl      *slog.Logger
}

func NewRouter(space Presence, lookups Lookups, opts Options) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Slogger == nil {
		opts.Slogger = slog.Default()
	}
	a := &api{
		space:   space,
		lookups: lookups,
		sl:      opts.Slogger.With("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		withAccessLog(a.sl),
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}),
	)

	r.Get("/", a.health)
	r.Get("/ws", space.HandleSocket(a.socketError))
	r.Handle("/metrics", opts.Metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/presence", a.presence)
		r.Get("/place", a.place)
		r.Get("/weather", a.weather)
		r.Get("/vibe", a.vibe)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, HealthMessage)
}

func (a *api) socketError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, atmosphere.ErrRoomClosed) {
		status = http.StatusServiceUnavailable
	}
	a.sl.Warn("socket upgrade failed", "err", err, "request_id", middleware.GetReqID(r.Context()))
	http.Error(w, err.Error(), status)
}

func (a *api) presence(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, a.space.Snapshot())
}

func (a *api) place(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := coordinates(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.writeJSON(w, a.lookups.Place(r.Context(), lat, lng))
}

func (a *api) weather(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := coordinates(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.writeJSON(w, a.lookups.Weather(r.Context(), lat, lng))
}

func (a *api) vibe(w http.ResponseWriter, r *http.Request) {
	count := a.space.Snapshot().Count
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "count must be a non-negative integer", http.StatusBadRequest)
			return
		}
		count = n
	}
	a.writeJSON(w, a.lookups.Vibe(r.Context(), count))
}

func (a *api) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.sl.Error("write response", "err", err)
	}
}

func coordinates(r *http.Request) (lat, lng float64, err error) {
	q := r.URL.Query()
	if lat, err = parseCoordinate(q.Get("lat"), "lat", 90); err != nil {
		return 0, 0, err
	}
	if lng, err = parseCoordinate(q.Get("lng"), "lng", 180); err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

func parseCoordinate(raw, name string, limit float64) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if math.Abs(v) > limit {
		return 0, fmt.Errorf("%s must be within ±%g", name, limit)
	}
	return v, nil
}

func withAccessLog(sl *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				sl.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"remote", r.RemoteAddr,
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
