package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"quakerisk/db"
	"quakerisk/geo"
)

func RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/countries", handleCountries)
	mux.HandleFunc("GET /api/continents", handleContinents)
	mux.HandleFunc("GET /api/countries/{country}/continent", handleCountryContinent)
	mux.HandleFunc("GET /api/model-status", handleModelStatus)
	mux.HandleFunc("GET /api/history", handleHistory)
}

var geoTable = geo.Default()

func SetGeoTable(t *geo.Table) {
	geoTable = t
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func handleCountries(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, geoTable.Countries())
}

func handleContinents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, geoTable.Continents())
}

func handleCountryContinent(w http.ResponseWriter, r *http.Request) {
	country := r.PathValue("country")
	if country == "" {
		http.Error(w, `{"error":"country is required"}`, http.StatusBadRequest)
		return
	}

	continent, ok := geoTable.ContinentOf(country)
	if !ok {
		http.Error(w, `{"error":"unknown country"}`, http.StatusNotFound)
		return
	}

	respondJSON(w, map[string]string{
		"country":   country,
		"continent": continent,
	})
}

func handleModelStatus(w http.ResponseWriter, r *http.Request) {
	b := currentBundle()
	if b == nil {
		respondJSON(w, map[string]interface{}{
			"models_loaded": false,
			"model_count":   0,
		})
		return
	}
	respondJSON(w, b.Status())
}

func handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	records, err := queryHistory(limit)
	if err != nil {
		httpLog.Error("query history", zap.Error(err))
		http.Error(w, `{"error":"history unavailable"}`, http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"records":   records,
		"count":     len(records),
		"timestamp": time.Now(),
	})
}

// queryHistory is swappable so handler tests run without a database.
var queryHistory = func(limit int) ([]db.HistoryRecord, error) {
	return db.QueryHistory(limit)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		httpLog.Error("encode JSON response", zap.Error(err))
	}
}
