package lookup

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"
)

const DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast"

type Condition string

const (
	Sunny  Condition = "sunny"
	Cloudy Condition = "cloudy"
	Rainy  Condition = "rainy"
	Snowy  Condition = "snowy"
)

type Intensity string

const (
	Light    Intensity = "light"
	Moderate Intensity = "moderate"
	Heavy    Intensity = "heavy"
)

type Weather struct {
	Condition Condition `json:"condition"`
	Intensity Intensity `json:"intensity"`
}

// ClearSkies is the weather used whenever nothing better is known.
var ClearSkies = Weather{Condition: Sunny, Intensity: Light}

var errNoWeatherCode = errors.New("response has no current weather code")

var wmoCodes = map[int64]Weather{
	0: ClearSkies, 1: ClearSkies,
	2: {Cloudy, Light}, 3: {Cloudy, Moderate},
	45: {Cloudy, Heavy}, 48: {Cloudy, Heavy},

	51: {Rainy, Light}, 56: {Rainy, Light}, 61: {Rainy, Light}, 66: {Rainy, Light}, 80: {Rainy, Light},
	53: {Rainy, Moderate}, 63: {Rainy, Moderate},
	55: {Rainy, Heavy}, 57: {Rainy, Heavy}, 65: {Rainy, Heavy}, 67: {Rainy, Heavy},
	81: {Rainy, Heavy}, 82: {Rainy, Heavy}, 95: {Rainy, Heavy}, 96: {Rainy, Heavy}, 99: {Rainy, Heavy},

	71: {Snowy, Light}, 77: {Snowy, Light}, 85: {Snowy, Light},
	73: {Snowy, Moderate},
	75: {Snowy, Heavy}, 86: {Snowy, Heavy},
}

// FromWMO maps a WMO weather interpretation code. Unknown codes are clear.
func FromWMO(code int64) Weather {
	if w, ok := wmoCodes[code]; ok {
		return w
	}
	return ClearSkies
}

// WeatherClient reads current conditions from Open-Meteo.
type WeatherClient struct {
	baseURL string
	client  *http.Client
}

func NewWeatherClient(baseURL string, client *http.Client) *WeatherClient {
	if baseURL == "" {
		baseURL = DefaultWeatherURL
	}
	return &WeatherClient{baseURL: baseURL, client: client}
}

func (w *WeatherClient) Current(ctx context.Context, lat, lng float64) (Weather, error) {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return Weather{}, err
	}
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("current_weather", "true")
	u.RawQuery = q.Encode()

	body, err := getJSON(ctx, w.client, u.String())
	if err != nil {
		return Weather{}, err
	}
	code := gjson.GetBytes(body, "current_weather.weathercode")
	if code.Type != gjson.Number {
		return Weather{}, errNoWeatherCode
	}
	return FromWMO(code.Int()), nil
}
