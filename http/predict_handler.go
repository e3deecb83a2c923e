package http

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"quakerisk/db"
	"quakerisk/ml"
	"quakerisk/monitoring"
)

func RegisterPredictHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /predict", handlePredict)
	mux.HandleFunc("GET /api/test-prediction", handleTestPrediction)
}

var (
	bundle   atomic.Pointer[ml.Bundle]
	metrics  = monitoring.NewMetricsForTesting()
	liveFeed *monitoring.Hub
	cache    *lru.Cache[string, map[string]ml.Prediction]
)

// SetBundle swaps in a model bundle. Safe to call while requests are being
// served; in-flight requests keep the bundle they started with.
func SetBundle(b *ml.Bundle) {
	bundle.Store(b)
	if b != nil {
		metrics.ModelsLoaded.Set(float64(len(b.AvailableTargets())))
	} else {
		metrics.ModelsLoaded.Set(0)
	}
	if cache != nil {
		cache.Purge()
	}
}

func currentBundle() *ml.Bundle {
	return bundle.Load()
}

func SetMetrics(m *monitoring.Metrics) {
	metrics = m
}

func SetLiveFeed(h *monitoring.Hub) {
	liveFeed = h
}

// InitPredictionCache sizes the result cache. size <= 0 disables caching.
func InitPredictionCache(size int) {
	if size <= 0 {
		cache = nil
		return
	}
	c, err := lru.New[string, map[string]ml.Prediction](size)
	if err != nil {
		httpLog.Warn("prediction cache disabled", zap.Error(err))
		cache = nil
		return
	}
	cache = c
}

// saveHistory is swappable so handler tests run without a database.
var saveHistory = db.SavePrediction

// ModelInfo summarizes the models behind a prediction response.
type ModelInfo struct {
	ModelType    string   `json:"model_type"`
	FeatureCount int      `json:"features_used"`
	Targets      []string `json:"targets"`
}

// PredictResponse is the envelope for /predict and /api/test-prediction.
// Prediction failures keep HTTP 200 and report success=false; only malformed
// requests get a non-200 status.
type PredictResponse struct {
	Success     bool                     `json:"success"`
	Predictions map[string]ml.Prediction `json:"predictions,omitempty"`
	InputData   *ml.EventInput           `json:"input_data,omitempty"`
	ModelInfo   *ModelInfo               `json:"model_info,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

func handlePredict(w http.ResponseWriter, r *http.Request) {
	var input ml.EventInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	servePrediction(w, r, input)
}

func handleTestPrediction(w http.ResponseWriter, r *http.Request) {
	servePrediction(w, r, ml.SampleInput())
}

func servePrediction(w http.ResponseWriter, r *http.Request, input ml.EventInput) {
	start := time.Now()

	b := currentBundle()
	if b == nil {
		metrics.PredictionErrors.Inc()
		respondJSON(w, PredictResponse{Success: false, Error: "models not loaded"})
		return
	}

	input = input.WithDefaults()
	if input.Country != "" && input.Continent == "" {
		if continent, ok := geoTable.ContinentOf(input.Country); ok {
			input.Continent = continent
		}
	}

	predictions, cached := lookupCache(input)
	if !cached {
		var err error
		predictions, err = b.Predict(input)
		if err != nil {
			metrics.PredictionErrors.Inc()
			httpLog.Warn("prediction failed",
				zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
			respondJSON(w, PredictResponse{Success: false, Error: err.Error()})
			return
		}
		storeCache(input, predictions)
	}

	metrics.PredictionDuration.Observe(time.Since(start).Seconds())
	for target, p := range predictions {
		metrics.PredictionsTotal.WithLabelValues(target, p.RiskLevel).Inc()
	}

	requestID := GetRequestID(r.Context())
	recordPrediction(requestID, input, predictions)

	meta := b.Metadata()
	respondJSON(w, PredictResponse{
		Success:     true,
		Predictions: predictions,
		InputData:   &input,
		ModelInfo: &ModelInfo{
			ModelType:    meta.ModelType,
			FeatureCount: meta.FeatureCount,
			Targets:      b.AvailableTargets(),
		},
	})
}

// recordPrediction persists the result and pushes it to feed subscribers.
// Both happen off the request path.
func recordPrediction(requestID string, input ml.EventInput, predictions map[string]ml.Prediction) {
	go func() {
		if err := saveHistory(requestID, input, predictions); err != nil {
			httpLog.Warn("save prediction history",
				zap.String("request_id", requestID), zap.Error(err))
		}
	}()

	if liveFeed == nil {
		return
	}
	msg := monitoring.PredictionMessage{
		RequestID:   requestID,
		Country:     input.Country,
		Predictions: make(map[string]*ml.Prediction, len(predictions)),
		Timestamp:   time.Now(),
	}
	if input.Magnitude != nil {
		msg.Magnitude = float64(*input.Magnitude)
	}
	if input.Depth != nil {
		msg.Depth = float64(*input.Depth)
	}
	if input.Latitude != nil {
		msg.Latitude = float64(*input.Latitude)
	}
	if input.Longitude != nil {
		msg.Longitude = float64(*input.Longitude)
	}
	for target := range predictions {
		p := predictions[target]
		msg.Predictions[target] = &p
	}
	liveFeed.BroadcastPrediction(msg)
}

func lookupCache(input ml.EventInput) (map[string]ml.Prediction, bool) {
	if cache == nil {
		return nil, false
	}
	key, err := cacheKey(input)
	if err != nil {
		return nil, false
	}
	if predictions, ok := cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return predictions, true
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return nil, false
}

func storeCache(input ml.EventInput, predictions map[string]ml.Prediction) {
	if cache == nil {
		return
	}
	key, err := cacheKey(input)
	if err != nil {
		return
	}
	cache.Add(key, predictions)
}

// cacheKey serializes the defaults-applied input. Two requests that resolve
// to the same effective feature values share one cache entry.
func cacheKey(input ml.EventInput) (string, error) {
	// Informational fields do not affect the prediction.
	input.Country = ""
	input.Continent = ""
	input.Location = ""
	payload, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
