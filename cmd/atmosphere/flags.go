package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chilledoj/atmosphere/internal/lookup"
)

type options struct {
	Port          int
	LogLevel      string
	LogFormat     string
	FrontendURL   cli.StringSlice
	APIKey        string
	OpenAIBaseURL string
	PoetModel     string
	GeocodeURL    string
	WeatherURL    string
	LookupTimeout time.Duration
	IdleTimeout   time.Duration
}

func (o *options) flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "port",
			Usage:       "port to listen on",
			Value:       3030,
			EnvVars:     []string{"PORT"},
			Destination: &o.Port,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "debug, info, warn or error",
			Value:       "info",
			EnvVars:     []string{"LOG_LEVEL"},
			Destination: &o.LogLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "text or json",
			Value:       "text",
			EnvVars:     []string{"LOG_FORMAT"},
			Destination: &o.LogFormat,
		},
		&cli.StringSliceFlag{
			Name:        "frontend-url",
			Usage:       "origins allowed by CORS, any origin when unset",
			EnvVars:     []string{"FRONTEND_URL"},
			Destination: &o.FrontendURL,
		},
		&cli.StringFlag{
			Name:        "api-key",
			Usage:       "API key of the chat model used for poetic text, fallbacks only when unset",
			EnvVars:     []string{"API_KEY"},
			Destination: &o.APIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "base URL of an OpenAI compatible endpoint",
			EnvVars:     []string{"OPENAI_BASE_URL"},
			Destination: &o.OpenAIBaseURL,
		},
		&cli.StringFlag{
			Name:        "poet-model",
			Usage:       "chat model used for poetic text",
			Value:       lookup.DefaultPoetModel,
			EnvVars:     []string{"POET_MODEL"},
			Destination: &o.PoetModel,
		},
		&cli.StringFlag{
			Name:        "geocode-url",
			Usage:       "reverse geocoding endpoint",
			Value:       lookup.DefaultGeocodeURL,
			EnvVars:     []string{"GEOCODE_URL"},
			Destination: &o.GeocodeURL,
		},
		&cli.StringFlag{
			Name:        "weather-url",
			Usage:       "current weather endpoint",
			Value:       lookup.DefaultWeatherURL,
			EnvVars:     []string{"WEATHER_URL"},
			Destination: &o.WeatherURL,
		},
		&cli.DurationFlag{
			Name:        "lookup-timeout",
			Usage:       "upper bound on each upstream lookup",
			Value:       lookup.DefaultTimeout,
			EnvVars:     []string{"LOOKUP_TIMEOUT"},
			Destination: &o.LookupTimeout,
		},
		&cli.DurationFlag{
			Name:        "idle-timeout",
			Usage:       "close sockets silent for this long, negative disables",
			Value:       60 * time.Second,
			EnvVars:     []string{"IDLE_TIMEOUT"},
			Destination: &o.IdleTimeout,
		},
	}
}
