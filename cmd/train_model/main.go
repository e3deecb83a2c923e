package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"quakerisk/ml"
	"quakerisk/pipeline"
)

func main() {
	csvPath := flag.String("csv", "", "earthquake dataset CSV path")
	outDir := flag.String("out", "./models", "artifact output directory")
	trees := flag.Int("trees", 100, "number of trees per forest")
	maxDepth := flag.Int("max_depth", 10, "max tree depth")
	testRatio := flag.Float64("test_ratio", 0.2, "test ratio")
	seed := flag.Int64("seed", 42, "random seed")
	tune := flag.Bool("tune", false, "grid-search trees and depth before training")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("csv is required")
	}

	records, err := ml.LoadCSV(*csvPath)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	if len(records) == 0 {
		log.Fatal("dataset is empty")
	}
	log.Printf("loaded %d records from %s", len(records), *csvPath)

	cleaner := pipeline.NewDataCleaner()
	records, issues := cleaner.Clean(records)
	if len(issues) > 0 {
		stats := cleaner.Stats()
		log.Printf("dropped %d records with quality issues: %v", stats.Rejected, stats.Issues)
	}
	if len(records) == 0 {
		log.Fatal("no records survived cleaning")
	}

	ml.FillMedians(records)
	targets := ml.DeriveTargets(records)
	encoders := fitEncoders(records)

	features := make([][]float64, len(records))
	for i, r := range records {
		features[i] = ml.TrainingVector(r, encoders)
	}

	imputer := &ml.Imputer{}
	if err := imputer.Fit(features); err != nil {
		log.Fatalf("failed to fit imputer: %v", err)
	}

	if *tune {
		// Tune against the high impact labels and reuse the winner for
		// all three targets.
		tuningCfg := ml.DefaultTuningConfig()
		tuningCfg.TestRatio = *testRatio
		tuningCfg.Seed = *seed
		best, _, err := ml.GridSearch(features, targets.HighImpact, tuningCfg)
		if err != nil {
			log.Fatalf("failed to tune parameters: %v", err)
		}
		log.Printf("tuned parameters: trees=%d max_depth=%d accuracy=%.4f",
			best.Config.Trees, best.Config.MaxDepth, best.Accuracy)
		*trees = best.Config.Trees
		*maxDepth = best.Config.MaxDepth
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}

	accuracies := make(map[string]float64)
	for target, labels := range map[string][]int{
		ml.TargetHighImpact:  targets.HighImpact,
		ml.TargetTsunamiRisk: targets.TsunamiRisk,
		ml.TargetHighAlert:   targets.HighAlert,
	} {
		accuracy, err := trainTarget(target, features, labels, *outDir, ml.ForestConfig{
			Trees:    *trees,
			MaxDepth: *maxDepth,
			Seed:     *seed,
		}, *testRatio)
		if err != nil {
			log.Fatalf("failed to train %s: %v", target, err)
		}
		accuracies[target] = accuracy
		log.Printf("%s: accuracy=%.4f", target, accuracy)
	}

	if err := ml.SaveEncoders(encoders, filepath.Join(*outDir, "encoders.json")); err != nil {
		log.Fatalf("failed to save encoders: %v", err)
	}
	if err := imputer.Save(filepath.Join(*outDir, "imputer.json")); err != nil {
		log.Fatalf("failed to save imputer: %v", err)
	}
	if err := saveMetadata(*outDir, records, accuracies); err != nil {
		log.Fatalf("failed to save metadata: %v", err)
	}

	fmt.Printf("artifacts saved to %s\n", *outDir)
}

// trainTarget splits the data, fits the per-target scaler on the training
// rows only, trains a forest on the scaled rows and reports test accuracy.
func trainTarget(target string, features [][]float64, labels []int, outDir string, cfg ml.ForestConfig, testRatio float64) (float64, error) {
	trainX, trainY, testX, testY := ml.SplitDataset(features, labels, testRatio, cfg.Seed)

	scaler := &ml.Scaler{}
	if err := scaler.Fit(trainX); err != nil {
		return 0, err
	}

	scaledTrain := make([][]float64, len(trainX))
	for i, row := range trainX {
		s, err := scaler.Transform(row)
		if err != nil {
			return 0, err
		}
		scaledTrain[i] = s
	}

	forest, err := ml.TrainForest(scaledTrain, trainY, cfg)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i, row := range testX {
		scaled, err := scaler.Transform(row)
		if err != nil {
			return 0, err
		}
		label, _, err := forest.Predict(scaled)
		if err != nil {
			return 0, err
		}
		if label == testY[i] {
			correct++
		}
	}
	accuracy := 1.0
	if len(testX) > 0 {
		accuracy = float64(correct) / float64(len(testX))
	}

	if err := forest.Save(filepath.Join(outDir, "rf_"+target+".json")); err != nil {
		return 0, err
	}
	if err := scaler.Save(filepath.Join(outDir, "scaler_"+target+".json")); err != nil {
		return 0, err
	}
	return accuracy, nil
}

func fitEncoders(records []ml.Record) ml.Encoders {
	magTypes := make([]string, len(records))
	nets := make([]string, len(records))
	alerts := make([]string, len(records))
	for i, r := range records {
		magTypes[i] = r.MagType
		nets[i] = r.Net
		alerts[i] = r.Alert
	}

	encoders := ml.Encoders{}
	for feature, values := range map[string][]string{
		"magType": magTypes,
		"net":     nets,
		"alert":   alerts,
	} {
		le := &ml.LabelEncoder{}
		le.Fit(values)
		encoders[feature] = le
	}
	return encoders
}

func saveMetadata(outDir string, records []ml.Record, accuracies map[string]float64) error {
	meta := ml.Metadata{
		ModelType:    "Random Forest",
		DatasetSize:  len(records),
		DateRange:    dateRange(records),
		FeatureCount: len(ml.FeatureNames()),
		Accuracies:   accuracies,
		TrainedAt:    time.Now().UTC(),
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "metadata.json"), payload, 0o644)
}

func dateRange(records []ml.Record) string {
	min, max := "", ""
	for _, r := range records {
		if r.Date == "" {
			continue
		}
		if min == "" || r.Date < min {
			min = r.Date
		}
		if max == "" || r.Date > max {
			max = r.Date
		}
	}
	if min == "" {
		return ""
	}
	return min + " to " + max
}
