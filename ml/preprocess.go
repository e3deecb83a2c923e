package ml

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"sort"
)

// Scaler standardizes feature vectors to zero mean and unit variance using
// statistics captured at training time.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-column mean and standard deviation.
func (s *Scaler) Fit(features [][]float64) error {
	if len(features) == 0 {
		return errors.New("features is empty")
	}
	cols := len(features[0])
	s.Mean = make([]float64, cols)
	s.Std = make([]float64, cols)

	for _, row := range features {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(features))
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range features {
		for j, v := range row {
			diff := v - s.Mean[j]
			s.Std[j] += diff * diff
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
	}
	return nil
}

// Transform standardizes one vector. Constant columns pass through unscaled.
func (s *Scaler) Transform(features []float64) ([]float64, error) {
	if len(features) != len(s.Mean) {
		return nil, errors.New("feature vector size mismatch")
	}
	out := make([]float64, len(features))
	for j, v := range features {
		std := s.Std[j]
		if std == 0 {
			out[j] = v - s.Mean[j]
			continue
		}
		out[j] = (v - s.Mean[j]) / std
	}
	return out, nil
}

// Save writes the scaler parameters as JSON.
func (s *Scaler) Save(path string) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// LoadScaler reads scaler parameters saved by Save.
func LoadScaler(path string) (*Scaler, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Scaler
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, err
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Std) {
		return nil, errors.New("invalid scaler parameters")
	}
	return &s, nil
}

// Imputer replaces NaN entries with the column medians observed at training
// time.
type Imputer struct {
	Medians []float64 `json:"medians"`
}

// Fit computes per-column medians, ignoring NaN entries.
func (im *Imputer) Fit(features [][]float64) error {
	if len(features) == 0 {
		return errors.New("features is empty")
	}
	cols := len(features[0])
	im.Medians = make([]float64, cols)
	for j := 0; j < cols; j++ {
		values := make([]float64, 0, len(features))
		for _, row := range features {
			if !math.IsNaN(row[j]) {
				values = append(values, row[j])
			}
		}
		im.Medians[j] = median(values)
	}
	return nil
}

// Transform fills NaN entries in one vector.
func (im *Imputer) Transform(features []float64) ([]float64, error) {
	if len(features) != len(im.Medians) {
		return nil, errors.New("feature vector size mismatch")
	}
	out := make([]float64, len(features))
	for j, v := range features {
		if math.IsNaN(v) {
			out[j] = im.Medians[j]
			continue
		}
		out[j] = v
	}
	return out, nil
}

// Save writes the imputer statistics as JSON.
func (im *Imputer) Save(path string) error {
	payload, err := json.Marshal(im)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// LoadImputer reads imputer statistics saved by Save.
func LoadImputer(path string) (*Imputer, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var im Imputer
	if err := json.Unmarshal(payload, &im); err != nil {
		return nil, err
	}
	if len(im.Medians) == 0 {
		return nil, errors.New("invalid imputer parameters")
	}
	return &im, nil
}

// LabelEncoder maps categorical string values to integer codes in sorted
// class order. Unseen values encode to 0.
type LabelEncoder struct {
	Classes []string `json:"classes"`
}

// Fit records the sorted unique classes.
func (le *LabelEncoder) Fit(values []string) {
	seen := make(map[string]bool, len(values))
	classes := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			classes = append(classes, v)
		}
	}
	sort.Strings(classes)
	le.Classes = classes
}

// Transform returns the code of value, or 0 when the class is unknown.
func (le *LabelEncoder) Transform(value string) int {
	for i, class := range le.Classes {
		if class == value {
			return i
		}
	}
	return 0
}

// Encoders holds the label encoders for the categorical inputs, keyed by
// feature name (magType, net, alert).
type Encoders map[string]*LabelEncoder

// Encode resolves one categorical value; a missing encoder yields 0.
func (e Encoders) Encode(feature, value string) int {
	if e == nil {
		return 0
	}
	le, ok := e[feature]
	if !ok || le == nil {
		return 0
	}
	return le.Transform(value)
}

// SaveEncoders writes the encoder set as JSON.
func SaveEncoders(e Encoders, path string) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// LoadEncoders reads an encoder set saved by SaveEncoders.
func LoadEncoders(path string) (Encoders, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e Encoders
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}
