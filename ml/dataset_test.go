package ml

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const sampleCSV = `date_time,magnitude,depth,latitude,longitude,cdi,mmi,sig,nst,dmin,gap,magType,net,alert,tsunami
01-01-2000 10:00,7.5,20,35.0,139.0,8,7,900,120,0.5,30,mw,us,red,1
02-01-2000 11:00,5.1,120,10.0,100.0,3,2,200,40,1.2,80,mb,us,green,0
03-01-2000 12:00,6.8,40,-33.0,-70.0,6,5,650,90,0.8,45,mw,ci,orange,1
04-01-2000 13:00,,60,0.0,20.0,4,,300,,1.0,60,ml,us,,0
05-01-2000 14:00,5.9,15,38.0,23.0,5,4,400,55,0.9,50,ml,us,yellow,0
`

func writeSampleCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "earthquake.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	records, err := LoadCSV(writeSampleCSV(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}

	if records[0].Magnitude != 7.5 || records[0].Alert != "red" || records[0].Tsunami != 1 {
		t.Errorf("first record parsed wrong: %+v", records[0])
	}
	if !math.IsNaN(records[3].Magnitude) {
		t.Error("missing magnitude should be NaN")
	}
	if records[3].Alert != "unknown" {
		t.Errorf("missing alert should be unknown, got %q", records[3].Alert)
	}
	if !records[0].HasTsunami || !records[0].HasAlert {
		t.Error("tsunami and alert columns should be flagged present")
	}
}

func TestFillMedians(t *testing.T) {
	records, err := LoadCSV(writeSampleCSV(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	FillMedians(records)

	for i, r := range records {
		for col := range numericColumns {
			if math.IsNaN(numericAt(&records[i], col)) {
				t.Fatalf("record %d column %d still NaN after fill: %+v", i, col, r)
			}
		}
	}
	// Median of {7.5, 5.1, 6.8, 5.9} is 6.35.
	if records[3].Magnitude != 6.35 {
		t.Errorf("expected median magnitude 6.35, got %f", records[3].Magnitude)
	}
}

func TestDeriveTargets(t *testing.T) {
	records, err := LoadCSV(writeSampleCSV(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	FillMedians(records)

	labels := DeriveTargets(records)

	if got := len(labels.HighImpact); got != len(records) {
		t.Fatalf("label count mismatch: %d", got)
	}
	// Tsunami column is present and authoritative.
	want := []int{1, 0, 1, 0, 0}
	for i, v := range want {
		if labels.TsunamiRisk[i] != v {
			t.Errorf("tsunami_risk[%d]: expected %d, got %d", i, v, labels.TsunamiRisk[i])
		}
	}
	// red and orange alerts map to high_alert; green/yellow/unknown do not.
	wantAlert := []int{1, 0, 1, 0, 0}
	for i, v := range wantAlert {
		if labels.HighAlert[i] != v {
			t.Errorf("high_alert[%d]: expected %d, got %d", i, v, labels.HighAlert[i])
		}
	}
	// The strongest, shallow, most significant event must be high impact.
	if labels.HighImpact[0] != 1 {
		t.Error("record 0 should be high impact")
	}
	if labels.HighImpact[1] != 0 {
		t.Error("record 1 (weak, deep) should not be high impact")
	}
}

func TestSplitDataset(t *testing.T) {
	features := make([][]float64, 10)
	labels := make([]int, 10)
	for i := range features {
		features[i] = []float64{float64(i)}
		labels[i] = i % 2
	}

	trainX, trainY, testX, testY := SplitDataset(features, labels, 0.2, 42)
	if len(trainX) != 8 || len(testX) != 2 {
		t.Fatalf("expected 8/2 split, got %d/%d", len(trainX), len(testX))
	}
	if len(trainX) != len(trainY) || len(testX) != len(testY) {
		t.Fatal("feature and label lengths diverged")
	}

	seen := make(map[float64]bool)
	for _, row := range append(append([][]float64{}, trainX...), testX...) {
		seen[row[0]] = true
	}
	if len(seen) != 10 {
		t.Fatalf("split lost or duplicated rows: %d unique", len(seen))
	}
}

func TestQuantile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if got := quantile(values, 0.5); got != 3 {
		t.Errorf("median quantile: expected 3, got %f", got)
	}
	if got := quantile(values, 1.0); got != 5 {
		t.Errorf("max quantile: expected 5, got %f", got)
	}
	if got := quantile(values, 0.0); got != 1 {
		t.Errorf("min quantile: expected 1, got %f", got)
	}
}
