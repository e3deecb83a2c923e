package ml

import (
	"errors"
	"sort"
	"sync"
)

// TuningConfig defines the grid searched when tuning a forest.
type TuningConfig struct {
	Trees      []int
	MaxDepths  []int
	TestRatio  float64
	Seed       int64
	MaxWorkers int
}

// DefaultTuningConfig is the grid used by the training command's tune mode.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		Trees:      []int{50, 100, 200},
		MaxDepths:  []int{6, 10, 14},
		TestRatio:  0.2,
		Seed:       42,
		MaxWorkers: 4,
	}
}

// TuningResult is the validation accuracy of one grid point.
type TuningResult struct {
	Config   ForestConfig `json:"config"`
	Accuracy float64      `json:"accuracy"`
}

// GridSearch trains a forest for every combination in the grid and returns
// the best result by validation accuracy, plus all results ranked best
// first. Grid points run concurrently up to MaxWorkers.
func GridSearch(features [][]float64, labels []int, cfg TuningConfig) (TuningResult, []TuningResult, error) {
	if len(cfg.Trees) == 0 || len(cfg.MaxDepths) == 0 {
		return TuningResult{}, nil, errors.New("empty parameter grid")
	}
	if len(features) == 0 {
		return TuningResult{}, nil, errors.New("no training data")
	}

	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	trainX, trainY, testX, testY := SplitDataset(features, labels, cfg.TestRatio, cfg.Seed)
	if len(testX) == 0 {
		return TuningResult{}, nil, errors.New("test split is empty")
	}

	scaler := &Scaler{}
	if err := scaler.Fit(trainX); err != nil {
		return TuningResult{}, nil, err
	}
	scaledTrain, err := transformAll(scaler, trainX)
	if err != nil {
		return TuningResult{}, nil, err
	}
	scaledTest, err := transformAll(scaler, testX)
	if err != nil {
		return TuningResult{}, nil, err
	}

	var grid []ForestConfig
	for _, trees := range cfg.Trees {
		for _, depth := range cfg.MaxDepths {
			grid = append(grid, ForestConfig{Trees: trees, MaxDepth: depth, Seed: cfg.Seed})
		}
	}

	results := make([]TuningResult, len(grid))
	errs := make([]error, len(grid))

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, fc := range grid {
		wg.Add(1)
		go func(i int, fc ForestConfig) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			accuracy, err := evaluateConfig(scaledTrain, trainY, scaledTest, testY, fc)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = TuningResult{Config: fc, Accuracy: accuracy}
		}(i, fc)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return TuningResult{}, nil, err
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Accuracy > results[b].Accuracy
	})
	return results[0], results, nil
}

func evaluateConfig(trainX [][]float64, trainY []int, testX [][]float64, testY []int, cfg ForestConfig) (float64, error) {
	forest, err := TrainForest(trainX, trainY, cfg)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i, row := range testX {
		label, _, err := forest.Predict(row)
		if err != nil {
			return 0, err
		}
		if label == testY[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(testX)), nil
}

func transformAll(scaler *Scaler, rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		scaled, err := scaler.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
