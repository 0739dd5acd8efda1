package lookup

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const DefaultGeocodeURL = "https://api.bigdatacloud.net/data/reverse-geocode-client"

const (
	InternationalWaters = "International Waters"
	UnknownRegion       = "Unknown Region"
	// RemoteTerritory stands in when the lookup itself failed.
	RemoteTerritory = "Remote Territory"
)

// Geocoder resolves coordinates to a country name using BigDataCloud's
// keyless reverse geocoding endpoint.
type Geocoder struct {
	baseURL string
	client  *http.Client
}

func NewGeocoder(baseURL string, client *http.Client) *Geocoder {
	if baseURL == "" {
		baseURL = DefaultGeocodeURL
	}
	return &Geocoder{baseURL: baseURL, client: client}
}

// Country returns the country for the coordinates. Open water yields
// InternationalWaters and anything else unnamed UnknownRegion.
func (g *Geocoder) Country(ctx context.Context, lat, lng float64) (string, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("localityLanguage", "en")
	u.RawQuery = q.Encode()

	body, err := getJSON(ctx, g.client, u.String())
	if err != nil {
		return "", err
	}

	if country := strings.TrimSpace(gjson.GetBytes(body, "countryName").String()); country != "" {
		return country, nil
	}
	for _, name := range gjson.GetBytes(body, "localityInfo.informative.#.name").Array() {
		if strings.Contains(strings.ToLower(name.String()), "ocean") {
			return InternationalWaters, nil
		}
	}
	return UnknownRegion, nil
}
