package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quakerisk/ml"
	"quakerisk/usgs"
)

func RegisterRecentHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/recent-events", handleRecentEvents)
}

var quakeFeed = usgs.NewClient("")

func SetQuakeFeed(c *usgs.Client) {
	quakeFeed = c
}

// fetchRecentEvents is swappable so handler tests run without the network.
var fetchRecentEvents = func(ctx context.Context, feed string) ([]usgs.Event, error) {
	return quakeFeed.RecentEvents(ctx, feed)
}

// RecentEvent pairs one feed event with its model predictions.
type RecentEvent struct {
	Event       usgs.Event               `json:"event"`
	Predictions map[string]ml.Prediction `json:"predictions,omitempty"`
}

func handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	feed := r.URL.Query().Get("feed")

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	events, err := fetchRecentEvents(ctx, feed)
	if err != nil {
		httpLog.Warn("fetch recent events", zap.Error(err))
		http.Error(w, `{"error":"earthquake feed unavailable"}`, http.StatusBadGateway)
		return
	}

	b := currentBundle()
	recent := make([]RecentEvent, 0, len(events))
	for _, event := range events {
		re := RecentEvent{Event: event}
		if b != nil {
			predictions, err := b.Predict(event.Input())
			if err != nil {
				httpLog.Warn("predict feed event",
					zap.String("event_id", event.ID), zap.Error(err))
			} else {
				re.Predictions = predictions
			}
		}
		recent = append(recent, re)
	}

	respondJSON(w, map[string]interface{}{
		"events":    recent,
		"count":     len(recent),
		"timestamp": time.Now(),
	})
}
