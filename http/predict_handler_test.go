package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"quakerisk/db"
	"quakerisk/ml"
)

func discardHistory(string, ml.EventInput, map[string]ml.Prediction) error { return nil }

// trainedBundle builds a tiny but complete artifact directory and loads it,
// exercising the same path the server uses at startup.
func trainedBundle(t *testing.T) *ml.Bundle {
	t.Helper()
	dir := t.TempDir()

	width := len(ml.FeatureNames())
	var features [][]float64
	var labels []int
	for i := 0; i < 16; i++ {
		row := make([]float64, width)
		if i%2 == 0 {
			row[0] = 8.0
			labels = append(labels, 1)
		} else {
			row[0] = 5.0
			labels = append(labels, 0)
		}
		features = append(features, row)
	}

	scaler := &ml.Scaler{}
	if err := scaler.Fit(features); err != nil {
		t.Fatalf("fit scaler: %v", err)
	}
	scaled := make([][]float64, len(features))
	for i, row := range features {
		s, err := scaler.Transform(row)
		if err != nil {
			t.Fatalf("scale row: %v", err)
		}
		scaled[i] = s
	}

	forest, err := ml.TrainForest(scaled, labels, ml.ForestConfig{Trees: 20, MaxDepth: 4, Seed: 1})
	if err != nil {
		t.Fatalf("train forest: %v", err)
	}

	for _, target := range ml.Targets() {
		if err := forest.Save(filepath.Join(dir, "rf_"+target+".json")); err != nil {
			t.Fatalf("save forest: %v", err)
		}
		if err := scaler.Save(filepath.Join(dir, "scaler_"+target+".json")); err != nil {
			t.Fatalf("save scaler: %v", err)
		}
	}

	encoders := ml.Encoders{}
	for feature, values := range map[string][]string{
		"magType": {"mb", "md", "ml", "mw"},
		"net":     {"ak", "ci", "us"},
		"alert":   {"green", "orange", "red", "yellow"},
	} {
		le := &ml.LabelEncoder{}
		le.Fit(values)
		encoders[feature] = le
	}
	if err := ml.SaveEncoders(encoders, filepath.Join(dir, "encoders.json")); err != nil {
		t.Fatalf("save encoders: %v", err)
	}

	imputer := &ml.Imputer{}
	if err := imputer.Fit(features); err != nil {
		t.Fatalf("fit imputer: %v", err)
	}
	if err := imputer.Save(filepath.Join(dir, "imputer.json")); err != nil {
		t.Fatalf("save imputer: %v", err)
	}

	b, err := ml.LoadBundle(dir, ml.DefaultThresholds(), zap.NewNop())
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	return b
}

func TestHandlePredict(t *testing.T) {
	mux := http.NewServeMux()
	RegisterPredictHandlers(mux)
	SetBundle(trainedBundle(t))
	InitPredictionCache(0)

	saved := make(chan string, 1)
	saveHistory = func(requestID string, in ml.EventInput, predictions map[string]ml.Prediction) error {
		saved <- requestID
		return nil
	}
	defer func() {
		SetBundle(nil)
		saveHistory = db.SavePrediction
	}()

	body := `{"magnitude": 7.2, "depth": 15.0, "latitude": 35.0, "longitude": 139.0, "country": "Japan"}`
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var payload PredictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !payload.Success {
		t.Fatalf("expected success, got error %q", payload.Error)
	}
	if len(payload.Predictions) != len(ml.Targets()) {
		t.Fatalf("expected %d targets, got %d", len(ml.Targets()), len(payload.Predictions))
	}
	for target, p := range payload.Predictions {
		if p.Probability < 0 || p.Probability > 1 {
			t.Errorf("%s: probability out of range: %v", target, p.Probability)
		}
		switch p.RiskLevel {
		case ml.RiskLow, ml.RiskMedium, ml.RiskHigh:
		default:
			t.Errorf("%s: unexpected risk level %q", target, p.RiskLevel)
		}
	}
	if payload.InputData == nil || float64(*payload.InputData.Magnitude) != 7.2 {
		t.Errorf("input data not echoed back: %+v", payload.InputData)
	}
	if payload.InputData.Continent != "Asia" {
		t.Errorf("expected continent autofill for Japan, got %q", payload.InputData.Continent)
	}
	if payload.ModelInfo == nil || payload.ModelInfo.ModelType == "" {
		t.Errorf("model info missing: %+v", payload.ModelInfo)
	}

	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Error("prediction was not persisted")
	}
}

func TestHandlePredictAppliesDefaults(t *testing.T) {
	mux := http.NewServeMux()
	RegisterPredictHandlers(mux)
	SetBundle(trainedBundle(t))
	saveHistory = discardHistory
	defer func() {
		SetBundle(nil)
		saveHistory = db.SavePrediction
	}()

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var payload PredictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !payload.Success {
		t.Fatalf("expected success, got error %q", payload.Error)
	}
	if float64(*payload.InputData.Magnitude) != ml.DefaultMagnitude {
		t.Errorf("expected default magnitude, got %v", *payload.InputData.Magnitude)
	}
	if payload.InputData.MagType != ml.DefaultMagType {
		t.Errorf("expected default magType, got %q", payload.InputData.MagType)
	}
}

func TestHandlePredictStringNumbers(t *testing.T) {
	mux := http.NewServeMux()
	RegisterPredictHandlers(mux)
	SetBundle(trainedBundle(t))
	saveHistory = discardHistory
	defer func() {
		SetBundle(nil)
		saveHistory = db.SavePrediction
	}()

	body := `{"magnitude": "6.8", "depth": "12.5"}`
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var payload PredictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !payload.Success {
		t.Fatalf("expected success, got error %q", payload.Error)
	}
	if float64(*payload.InputData.Magnitude) != 6.8 {
		t.Errorf("string magnitude not parsed: %v", *payload.InputData.Magnitude)
	}
}

func TestHandlePredictBadJSON(t *testing.T) {
	mux := http.NewServeMux()
	RegisterPredictHandlers(mux)

	for _, body := range []string{`{"magnitude":`, `{"depth":""}`} {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestHandlePredictNoModels(t *testing.T) {
	SetBundle(nil)

	mux := http.NewServeMux()
	RegisterPredictHandlers(mux)

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"magnitude": 7.0}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("prediction failures keep 200, got %d", w.Code)
	}

	var payload PredictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Success {
		t.Fatal("expected success=false without models")
	}
	if payload.Error == "" {
		t.Error("expected an error message")
	}
}

func TestTestPredictionEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	RegisterPredictHandlers(mux)
	SetBundle(trainedBundle(t))
	saveHistory = discardHistory
	defer func() {
		SetBundle(nil)
		saveHistory = db.SavePrediction
	}()

	req := httptest.NewRequest(http.MethodGet, "/api/test-prediction", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var payload PredictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !payload.Success {
		t.Fatalf("expected success, got error %q", payload.Error)
	}
	if float64(*payload.InputData.Magnitude) != 7.0 {
		t.Errorf("expected sample magnitude 7.0, got %v", *payload.InputData.Magnitude)
	}
}

func TestPredictionCacheReuse(t *testing.T) {
	mux := http.NewServeMux()
	RegisterPredictHandlers(mux)
	SetBundle(trainedBundle(t))
	InitPredictionCache(8)
	saveHistory = discardHistory
	defer func() {
		SetBundle(nil)
		InitPredictionCache(0)
		saveHistory = db.SavePrediction
	}()

	// Same effective input twice; the country differs but is informational.
	bodies := []string{
		`{"magnitude": 6.9, "depth": 40.0, "country": "Japan"}`,
		`{"magnitude": 6.9, "depth": 40.0, "country": "Chile"}`,
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}

	if cache.Len() != 1 {
		t.Errorf("expected one cache entry for equivalent inputs, got %d", cache.Len())
	}
}

func TestCacheKeyIgnoresInformationalFields(t *testing.T) {
	mag := ml.Number(7.0)
	a := ml.EventInput{Magnitude: &mag, Country: "Japan", Location: "Tokyo"}
	b := ml.EventInput{Magnitude: &mag}

	ka, err := cacheKey(a)
	if err != nil {
		t.Fatal(err)
	}
	kb, err := cacheKey(b)
	if err != nil {
		t.Fatal(err)
	}
	if ka != kb {
		t.Errorf("cache keys differ: %q vs %q", ka, kb)
	}
}
