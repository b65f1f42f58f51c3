package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	defaultNominatimURL = "https://nominatim.openstreetmap.org"
	nominatimCacheTTL   = 24 * time.Hour
	userAgent           = "skyarchive/1.0 (+https://github.com/sujalbistaa/skyarchive)"
)

// Nominatim resolves coordinates through an OpenStreetMap Nominatim server.
// Results are cached per coordinate rounded to four decimals.
type Nominatim struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.Cache
}

func NewNominatim(baseURL string, timeout time.Duration) *Nominatim {
	if baseURL == "" {
		baseURL = defaultNominatimURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Nominatim{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache.New(nominatimCacheTTL, time.Hour),
	}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     *struct {
		District     string `json:"district"`
		CityDistrict string `json:"city_district"`
		County       string `json:"county"`
		Suburb       string `json:"suburb"`
		State        string `json:"state"`
		Country      string `json:"country"`
	} `json:"address"`
}

func cacheKey(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', 4, 64) + "," + strconv.FormatFloat(lng, 'f', 4, 64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// format builds "district, state, country" from the address parts that exist.
func (r nominatimResponse) format() string {
	if r.Address != nil {
		a := r.Address
		var parts []string
		for _, p := range []string{firstNonEmpty(a.District, a.CityDistrict, a.County, a.Suburb), a.State, a.Country} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}
	return strings.TrimSpace(strings.SplitN(r.DisplayName, ",", 2)[0])
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	if !ValidCoordinates(lat, lng) {
		return "", fmt.Errorf("reverse geocode: invalid coordinates %v,%v", lat, lng)
	}
	key := cacheKey(lat, lng)
	if cached, ok := n.cache.Get(key); ok {
		if name, ok := cached.(string); ok {
			return name, nil
		}
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode: unexpected status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("reverse geocode: decode response: %w", err)
	}
	name := body.format()
	if name == "" {
		return "", fmt.Errorf("reverse geocode: empty result")
	}
	n.cache.SetDefault(key, name)
	return name, nil
}
