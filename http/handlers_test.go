package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"quakerisk/db"
)

func TestMain(m *testing.M) {
	// Setup
	dbPath := "./test.db"
	db.InitDB(dbPath)

	code := m.Run()

	// Teardown
	db.Close()
	os.Remove(dbPath)
	os.Exit(code)
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestCountriesHandler(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/countries", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var countries []string
	if err := json.Unmarshal(w.Body.Bytes(), &countries); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(countries) == 0 {
		t.Fatal("expected a non-empty country list")
	}
	found := false
	for _, c := range countries {
		if c == "Japan" {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("country list missing Japan: %v", countries)
	}
}

func TestContinentsHandler(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/continents", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var continents []string
	if err := json.Unmarshal(w.Body.Bytes(), &continents); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(continents) != 6 {
		t.Errorf("expected 6 continents, got %d: %v", len(continents), continents)
	}
}

func TestCountryContinentHandler(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/countries/Japan/continent", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var payload map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["continent"] != "Asia" {
		t.Errorf("expected Asia, got %q", payload["continent"])
	}
}

func TestCountryContinentHandlerUnknown(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/countries/Atlantis/continent", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestModelStatusWithoutBundle(t *testing.T) {
	SetBundle(nil)

	mux := http.NewServeMux()
	RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/model-status", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["models_loaded"] != false {
		t.Errorf("expected models_loaded=false, got %v", payload["models_loaded"])
	}
}

func TestHistoryHandler(t *testing.T) {
	queryHistory = func(limit int) ([]db.HistoryRecord, error) {
		return []db.HistoryRecord{{RequestID: "r1", Target: "high_impact"}}, nil
	}
	defer func() {
		queryHistory = func(limit int) ([]db.HistoryRecord, error) {
			return db.QueryHistory(limit)
		}
	}()

	mux := http.NewServeMux()
	RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=10", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var payload struct {
		Records []db.HistoryRecord `json:"records"`
		Count   int                `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Count != 1 || payload.Records[0].RequestID != "r1" {
		t.Errorf("unexpected history payload: %+v", payload)
	}
}
