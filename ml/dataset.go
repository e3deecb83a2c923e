package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
)

// Record is one raw earthquake observation from the training CSV. Missing
// numerics are NaN until median-filled.
type Record struct {
	Magnitude float64
	Depth     float64
	Latitude  float64
	Longitude float64
	CDI       float64
	MMI       float64
	Sig       float64
	Nst       float64
	Dmin      float64
	Gap       float64

	MagType string
	Net     string
	Alert   string

	Tsunami    int
	HasTsunami bool
	HasAlert   bool
	Date       string
}

var numericColumns = []string{
	"magnitude", "depth", "latitude", "longitude",
	"cdi", "mmi", "sig", "nst", "dmin", "gap",
}

// LoadCSV reads the earthquake dataset, mapping columns by header name.
// Unknown columns are ignored; missing numeric cells become NaN and missing
// categoricals become "unknown".
func LoadCSV(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("dataset has no data rows")
	}

	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		index[strings.TrimSpace(name)] = i
	}
	_, hasTsunami := index["tsunami"]
	_, hasAlert := index["alert"]

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := Record{
			Magnitude:  cellFloat(row, index, "magnitude"),
			Depth:      cellFloat(row, index, "depth"),
			Latitude:   cellFloat(row, index, "latitude"),
			Longitude:  cellFloat(row, index, "longitude"),
			CDI:        cellFloat(row, index, "cdi"),
			MMI:        cellFloat(row, index, "mmi"),
			Sig:        cellFloat(row, index, "sig"),
			Nst:        cellFloat(row, index, "nst"),
			Dmin:       cellFloat(row, index, "dmin"),
			Gap:        cellFloat(row, index, "gap"),
			MagType:    cellString(row, index, "magType"),
			Net:        cellString(row, index, "net"),
			Alert:      cellString(row, index, "alert"),
			Date:       cellString(row, index, "date_time"),
			HasTsunami: hasTsunami,
			HasAlert:   hasAlert,
		}
		if hasTsunami {
			if v := cellFloat(row, index, "tsunami"); !math.IsNaN(v) && v >= 1 {
				rec.Tsunami = 1
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func cellFloat(row []string, index map[string]int, name string) float64 {
	i, ok := index[name]
	if !ok || i >= len(row) {
		return math.NaN()
	}
	s := strings.TrimSpace(row[i])
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func cellString(row []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(row) {
		return "unknown"
	}
	s := strings.TrimSpace(row[i])
	if s == "" {
		return "unknown"
	}
	return s
}

// FillMedians replaces NaN numerics in place with per-column medians,
// mirroring the training-time imputation of raw inputs.
func FillMedians(records []Record) {
	for col := range numericColumns {
		values := make([]float64, 0, len(records))
		for i := range records {
			if v := numericAt(&records[i], col); !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		m := median(values)
		for i := range records {
			if math.IsNaN(numericAt(&records[i], col)) {
				setNumericAt(&records[i], col, m)
			}
		}
	}
}

func numericAt(r *Record, col int) float64 {
	switch col {
	case 0:
		return r.Magnitude
	case 1:
		return r.Depth
	case 2:
		return r.Latitude
	case 3:
		return r.Longitude
	case 4:
		return r.CDI
	case 5:
		return r.MMI
	case 6:
		return r.Sig
	case 7:
		return r.Nst
	case 8:
		return r.Dmin
	default:
		return r.Gap
	}
}

func setNumericAt(r *Record, col int, v float64) {
	switch col {
	case 0:
		r.Magnitude = v
	case 1:
		r.Depth = v
	case 2:
		r.Latitude = v
	case 3:
		r.Longitude = v
	case 4:
		r.CDI = v
	case 5:
		r.MMI = v
	case 6:
		r.Sig = v
	case 7:
		r.Nst = v
	case 8:
		r.Dmin = v
	default:
		r.Gap = v
	}
}

// TargetLabels holds the derived binary labels for each training target.
type TargetLabels struct {
	HighImpact  []int
	TsunamiRisk []int
	HighAlert   []int
}

var alertLevels = map[string]int{
	"green":  0,
	"yellow": 1,
	"orange": 2,
	"red":    3,
}

// DeriveTargets computes the three binary targets from median-filled records:
// high_impact marks the top 30% of a weighted impact score, tsunami_risk
// comes from the tsunami column (or magnitude/depth conditions when absent)
// and high_alert marks alert levels orange and above.
func DeriveTargets(records []Record) TargetLabels {
	labels := TargetLabels{
		HighImpact:  make([]int, len(records)),
		TsunamiRisk: make([]int, len(records)),
		HighAlert:   make([]int, len(records)),
	}
	if len(records) == 0 {
		return labels
	}

	magMin, magMax := columnRange(records, 0)
	depthMin, depthMax := columnRange(records, 1)
	sigMin, sigMax := columnRange(records, 6)

	scores := make([]float64, len(records))
	for i, r := range records {
		score := 0.0
		score += normalize(r.Magnitude, magMin, magMax) * 0.4
		score += (1 - normalize(r.Depth, depthMin, depthMax)) * 0.3
		score += normalize(r.Sig, sigMin, sigMax) * 0.2
		score += (r.CDI / 10.0) * 0.1
		scores[i] = score
	}
	threshold := quantile(scores, 0.7)

	for i, r := range records {
		if scores[i] >= threshold {
			labels.HighImpact[i] = 1
		}

		if r.HasTsunami {
			labels.TsunamiRisk[i] = r.Tsunami
		} else if r.Magnitude >= 6.5 && r.Depth <= 50 {
			labels.TsunamiRisk[i] = 1
		}

		if r.HasAlert {
			if alertLevels[strings.ToLower(r.Alert)] >= 2 {
				labels.HighAlert[i] = 1
			}
		} else if r.Magnitude >= 7.0 {
			labels.HighAlert[i] = 1
		}
	}
	return labels
}

func columnRange(records []Record, col int) (float64, float64) {
	min := math.Inf(1)
	max := math.Inf(-1)
	for i := range records {
		v := numericAt(&records[i], col)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func normalize(v, min, max float64) float64 {
	if max == min {
		return 0
	}
	return (v - min) / (max - min)
}

// quantile returns the value below which fraction q of the sorted data falls.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sortFloats(sorted)
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// TrainingVector builds the serving-order feature vector for one record.
func TrainingVector(r Record, enc Encoders) []float64 {
	in := EventInput{
		Magnitude: numberPtr(r.Magnitude),
		Depth:     numberPtr(r.Depth),
		Latitude:  numberPtr(r.Latitude),
		Longitude: numberPtr(r.Longitude),
		CDI:       numberPtr(r.CDI),
		MMI:       numberPtr(r.MMI),
		Sig:       numberPtr(r.Sig),
		Nst:       numberPtr(r.Nst),
		Dmin:      numberPtr(r.Dmin),
		Gap:       numberPtr(r.Gap),
		MagType:   r.MagType,
		Net:       r.Net,
		Alert:     r.Alert,
	}
	return FeatureVector(in, enc)
}

func numberPtr(v float64) *Number {
	n := Number(v)
	return &n
}

// SplitDataset shuffles and splits features and labels by testRatio.
func SplitDataset(features [][]float64, labels []int, testRatio float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rng := rand.New(rand.NewSource(seed))
	indices := rng.Perm(len(features))

	split := int(math.Round(float64(len(features)) * (1 - testRatio)))
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, labels[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}
