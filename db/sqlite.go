// Package db persists prediction history in SQLite.
package db

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"quakerisk/ml"
)

var database *sql.DB

// InitDB opens the SQLite database and creates the schema.
func InitDB(path string) error {
	var err error
	database, err = sql.Open("sqlite3", path)
	if err != nil {
		return err
	}

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT NOT NULL,
        target VARCHAR(20) NOT NULL,
        prediction INTEGER NOT NULL,
        probability REAL NOT NULL,
        risk_level VARCHAR(10) NOT NULL,
        confidence REAL NOT NULL,
        magnitude REAL,
        depth REAL,
        latitude REAL,
        longitude REAL,
        country TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    `

	_, err = database.Exec(query)
	return err
}

// Close releases the database handle.
func Close() error {
	if database == nil {
		return nil
	}
	return database.Close()
}

// HistoryRecord is one persisted per-target prediction.
type HistoryRecord struct {
	RequestID   string    `json:"request_id"`
	Target      string    `json:"target"`
	Prediction  int       `json:"prediction"`
	Probability float64   `json:"probability"`
	RiskLevel   string    `json:"risk_level"`
	Confidence  float64   `json:"confidence"`
	Magnitude   float64   `json:"magnitude"`
	Depth       float64   `json:"depth"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Country     string    `json:"country,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SavePrediction writes one row per target inside a single transaction.
func SavePrediction(requestID string, in ml.EventInput, predictions map[string]ml.Prediction) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	if requestID == "" {
		return errors.New("request id required")
	}
	if len(predictions) == 0 {
		return nil
	}

	in = in.WithDefaults()
	tx, err := database.Begin()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, target := range ml.Targets() {
		p, ok := predictions[target]
		if !ok {
			continue
		}
		_, err = tx.Exec(`
            INSERT INTO predictions (
                request_id, target, prediction, probability, risk_level, confidence,
                magnitude, depth, latitude, longitude, country, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			requestID, target, p.Prediction, p.Probability, p.RiskLevel, p.Confidence,
			float64(*in.Magnitude), float64(*in.Depth), float64(*in.Latitude), float64(*in.Longitude),
			in.Country, now)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// QueryHistory returns the most recent prediction rows, newest first.
func QueryHistory(limit int) ([]HistoryRecord, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := database.Query(`
        SELECT request_id, target, prediction, probability, risk_level, confidence,
               magnitude, depth, latitude, longitude, country, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]HistoryRecord, 0, limit)
	for rows.Next() {
		var r HistoryRecord
		var country sql.NullString
		err := rows.Scan(&r.RequestID, &r.Target, &r.Prediction, &r.Probability, &r.RiskLevel,
			&r.Confidence, &r.Magnitude, &r.Depth, &r.Latitude, &r.Longitude, &country, &r.CreatedAt)
		if err != nil {
			return nil, err
		}
		if country.Valid {
			r.Country = country.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
