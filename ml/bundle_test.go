package ml

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeBundleDir(t *testing.T, targets []string) string {
	t.Helper()
	dir := t.TempDir()

	features, labels := trainingSet()
	for _, target := range targets {
		// Serving bundles carry 24-feature models; pad the toy set to width.
		wide := make([][]float64, len(features))
		for i, row := range features {
			padded := make([]float64, len(FeatureNames()))
			copy(padded, row)
			wide[i] = padded
		}
		forest, err := TrainForest(wide, labels, ForestConfig{Trees: 10, MaxDepth: 3, Seed: 42})
		if err != nil {
			t.Fatalf("train failed: %v", err)
		}
		if err := forest.Save(filepath.Join(dir, forestFile(target))); err != nil {
			t.Fatalf("save forest: %v", err)
		}

		scaler := &Scaler{}
		if err := scaler.Fit(wide); err != nil {
			t.Fatalf("fit scaler: %v", err)
		}
		if err := scaler.Save(filepath.Join(dir, scalerFile(target))); err != nil {
			t.Fatalf("save scaler: %v", err)
		}
	}

	magType := &LabelEncoder{}
	magType.Fit([]string{"mb", "ml", "mw"})
	if err := SaveEncoders(Encoders{"magType": magType}, filepath.Join(dir, encodersFile)); err != nil {
		t.Fatalf("save encoders: %v", err)
	}

	imputer := &Imputer{}
	wide := make([][]float64, 2)
	for i := range wide {
		wide[i] = FeatureVector(EventInput{}, nil)
	}
	if err := imputer.Fit(wide); err != nil {
		t.Fatalf("fit imputer: %v", err)
	}
	if err := imputer.Save(filepath.Join(dir, imputerFile)); err != nil {
		t.Fatalf("save imputer: %v", err)
	}

	meta := Metadata{
		ModelType:    "Random Forest",
		DatasetSize:  1000,
		DateRange:    "Earthquake dataset (1995-2023)",
		FeatureCount: len(FeatureNames()),
		Accuracies:   map[string]float64{TargetHighImpact: 0.935},
		TrainedAt:    time.Now(),
	}
	payload, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(dir, metadataFile), payload, 0o600); err != nil {
		t.Fatalf("save metadata: %v", err)
	}
	return dir
}

func TestLoadBundleAndPredict(t *testing.T) {
	dir := writeBundleDir(t, Targets())

	bundle, err := LoadBundle(dir, DefaultThresholds(), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(bundle.AvailableTargets()); got != 3 {
		t.Fatalf("expected 3 targets, got %d", got)
	}

	predictions, err := bundle.Predict(SampleInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, target := range Targets() {
		p, ok := predictions[target]
		if !ok {
			t.Fatalf("missing prediction for %s", target)
		}
		if p.Probability < 0 || p.Probability > 1 {
			t.Errorf("%s: probability out of range: %f", target, p.Probability)
		}
		if p.RiskLevel != DefaultThresholds().Level(p.Probability) {
			t.Errorf("%s: risk level %s inconsistent with probability %f", target, p.RiskLevel, p.Probability)
		}
		if p.Confidence < 0.5 || p.Confidence > 1 {
			t.Errorf("%s: confidence out of range: %f", target, p.Confidence)
		}
	}
}

func TestLoadBundleSkipsMissingTargets(t *testing.T) {
	dir := writeBundleDir(t, []string{TargetHighImpact})

	bundle, err := LoadBundle(dir, DefaultThresholds(), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	targets := bundle.AvailableTargets()
	if len(targets) != 1 || targets[0] != TargetHighImpact {
		t.Fatalf("expected only high_impact, got %v", targets)
	}

	status := bundle.Status()
	if !status.ModelsLoaded || status.ModelCount != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if !status.EncodersLoaded || !status.ImputerLoaded {
		t.Fatal("encoders and imputer should load")
	}
	if status.DatasetInfo.Size != 1000 {
		t.Fatalf("metadata not surfaced in status: %+v", status.DatasetInfo)
	}
}

func TestLoadBundleEmptyDirFails(t *testing.T) {
	if _, err := LoadBundle(t.TempDir(), DefaultThresholds(), zap.NewNop()); err == nil {
		t.Fatal("expected error for empty models directory")
	}
}

func TestThresholdBoundaries(t *testing.T) {
	th := DefaultThresholds()

	cases := []struct {
		probability float64
		want        string
	}{
		{0.0, RiskLow},
		{0.29999, RiskLow},
		{0.30, RiskMedium},
		{0.5, RiskMedium},
		{0.69999, RiskMedium},
		{0.70, RiskHigh},
		{1.0, RiskHigh},
	}
	for _, tc := range cases {
		if got := th.Level(tc.probability); got != tc.want {
			t.Errorf("Level(%f) = %s, want %s", tc.probability, got, tc.want)
		}
	}
}
