// Package usgs fetches recent earthquake events from the USGS GeoJSON feeds.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"quakerisk/ml"
)

// DefaultBaseURL serves the public summary feeds.
const DefaultBaseURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary"

// Event is one earthquake from the feed.
type Event struct {
	ID        string    `json:"id"`
	Place     string    `json:"place"`
	Time      time.Time `json:"time"`
	Magnitude float64   `json:"magnitude"`
	Depth     float64   `json:"depth"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	MagType   string    `json:"magType,omitempty"`
	Net       string    `json:"net,omitempty"`
	Alert     string    `json:"alert,omitempty"`
	Sig       float64   `json:"sig"`
	Tsunami   int       `json:"tsunami"`
}

// Client reads the USGS summary feeds.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a feed client. An empty baseURL uses the public feeds.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type feedDocument struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Mag     *float64 `json:"mag"`
			Place   string   `json:"place"`
			Time    int64    `json:"time"`
			Sig     float64  `json:"sig"`
			MagType string   `json:"magType"`
			Net     string   `json:"net"`
			Alert   string   `json:"alert"`
			Tsunami int      `json:"tsunami"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // lon, lat, depth
		} `json:"geometry"`
	} `json:"features"`
}

// RecentEvents fetches the past-day feed filtered to the given minimum
// magnitude. feed is the USGS magnitude bucket: "significant", "4.5",
// "2.5", "1.0" or "all".
func (c *Client) RecentEvents(ctx context.Context, feed string) ([]Event, error) {
	if feed == "" {
		feed = "4.5"
	}
	url := fmt.Sprintf("%s/%s_day.geojson", c.baseURL, feed)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usgs feed returned %s", resp.Status)
	}

	var doc feedDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode usgs feed: %w", err)
	}

	events := make([]Event, 0, len(doc.Features))
	for _, f := range doc.Features {
		if f.Properties.Mag == nil || len(f.Geometry.Coordinates) < 3 {
			continue
		}
		events = append(events, Event{
			ID:        f.ID,
			Place:     f.Properties.Place,
			Time:      time.UnixMilli(f.Properties.Time).UTC(),
			Magnitude: *f.Properties.Mag,
			Depth:     f.Geometry.Coordinates[2],
			Latitude:  f.Geometry.Coordinates[1],
			Longitude: f.Geometry.Coordinates[0],
			MagType:   f.Properties.MagType,
			Net:       f.Properties.Net,
			Alert:     f.Properties.Alert,
			Sig:       f.Properties.Sig,
			Tsunami:   f.Properties.Tsunami,
		})
	}
	return events, nil
}

// Input converts a feed event to a prediction input. Fields the feed does
// not carry stay unset and pick up serving defaults.
func (e Event) Input() ml.EventInput {
	magnitude := ml.Number(e.Magnitude)
	depth := ml.Number(e.Depth)
	latitude := ml.Number(e.Latitude)
	longitude := ml.Number(e.Longitude)
	sig := ml.Number(e.Sig)

	return ml.EventInput{
		Magnitude: &magnitude,
		Depth:     &depth,
		Latitude:  &latitude,
		Longitude: &longitude,
		Sig:       &sig,
		MagType:   e.MagType,
		Net:       e.Net,
		Alert:     e.Alert,
		Location:  e.Place,
	}
}
