// Package lookup enriches coordinates with a country, a poetic place name and
// current weather, and reads the mood of the lounge. Every lookup degrades to
// a fixed fallback instead of failing.
package lookup

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chilledoj/atmosphere/internal/metrics"
)

const (
	DefaultTimeout   = 5 * time.Second
	defaultCacheSize = 10_000
)

const (
	lookupCountry = "country"
	lookupName    = "name"
	lookupWeather = "weather"
	lookupVibe    = "vibe"
)

type Config struct {
	GeocodeURL    string
	WeatherURL    string
	APIKey        string
	OpenAIBaseURL string
	PoetModel     string
	Timeout       time.Duration
	CacheSize     int64
	HTTPClient    *http.Client
	Metrics       *metrics.Metrics
	Slogger       *slog.Logger
}

type Place struct {
	Country string `json:"country"`
	Name    string `json:"name"`
}

type Service struct {
	geocoder *Geocoder
	weather  *WeatherClient
	poet     *Poet
	cache    *cache
	timeout  time.Duration
	metrics  *metrics.Metrics
	Slogger  *slog.Logger
}

func New(cfg Config) (*Service, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Slogger == nil {
		cfg.Slogger = slog.Default()
	}
	c, err := newCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		geocoder: NewGeocoder(cfg.GeocodeURL, cfg.HTTPClient),
		weather:  NewWeatherClient(cfg.WeatherURL, cfg.HTTPClient),
		poet:     NewPoet(cfg.APIKey, cfg.OpenAIBaseURL, cfg.PoetModel, cfg.HTTPClient),
		cache:    c,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		Slogger:  cfg.Slogger.With("component", "lookup"),
	}, nil
}

func (s *Service) Close() {
	s.cache.close()
}

// Place resolves the country and poetic name concurrently. Either half
// falls back on its own.
func (s *Service) Place(ctx context.Context, lat, lng float64) Place {
	var p Place
	var g errgroup.Group
	g.Go(func() error {
		p.Country = s.Country(ctx, lat, lng)
		return nil
	})
	g.Go(func() error {
		p.Name = s.PoeticLocation(ctx, lat, lng)
		return nil
	})
	_ = g.Wait()
	return p
}

func (s *Service) Country(ctx context.Context, lat, lng float64) string {
	return resolve(ctx, s, lookupCountry, key(lookupCountry, lat, lng), placeTTL, RemoteTerritory,
		func(ctx context.Context) (string, error) { return s.geocoder.Country(ctx, lat, lng) })
}

func (s *Service) PoeticLocation(ctx context.Context, lat, lng float64) string {
	return resolve(ctx, s, lookupName, key(lookupName, lat, lng), nameTTL, SomewhereTogether,
		func(ctx context.Context) (string, error) { return s.poet.PoeticLocation(ctx, lat, lng) })
}

func (s *Service) Weather(ctx context.Context, lat, lng float64) Weather {
	return resolve(ctx, s, lookupWeather, key(lookupWeather, lat, lng), weatherTTL, ClearSkies,
		func(ctx context.Context) (Weather, error) { return s.weather.Current(ctx, lat, lng) })
}

// Vibe is never cached since the head count moves constantly.
func (s *Service) Vibe(ctx context.Context, count int) Vibe {
	return resolve(ctx, s, lookupVibe, "", 0, QuietHum,
		func(ctx context.Context) (Vibe, error) { return s.poet.RoomVibe(ctx, count) })
}

// resolve serves k from cache when possible, otherwise calls fetch under the
// service timeout. Successful answers are cached for ttl; fallbacks never are.
// An empty k disables caching.
func resolve[T any](ctx context.Context, s *Service, lookup, k string, ttl time.Duration, fallback T, fetch func(context.Context) (T, error)) T {
	if k != "" {
		if v, ok := cached[T](s.cache, k); ok {
			s.metrics.LookupCacheHits.WithLabelValues(lookup).Inc()
			return v
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	v, err := fetch(ctx)
	s.metrics.LookupDurationMs.WithLabelValues(lookup).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.metrics.LookupFallbacks.WithLabelValues(lookup).Inc()
		level := slog.LevelWarn
		if errors.Is(err, ErrPoetDisabled) {
			level = slog.LevelDebug
		}
		s.Slogger.Log(ctx, level, "lookup failed, using fallback", "lookup", lookup, "err", err)
		return fallback
	}
	if k != "" {
		s.cache.set(k, v, ttl)
	}
	return v
}
