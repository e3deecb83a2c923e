package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Prediction targets served by the bundle.
const (
	TargetHighImpact  = "high_impact"
	TargetTsunamiRisk = "tsunami_risk"
	TargetHighAlert   = "high_alert"
)

// Targets returns the target names in serving order.
func Targets() []string {
	return []string{TargetHighImpact, TargetTsunamiRisk, TargetHighAlert}
}

// Risk labels derived from the predicted probability.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Thresholds are the probability cut points for the three risk labels.
type Thresholds struct {
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// DefaultThresholds returns the trained cut points (0.30 and 0.70).
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 0.30, High: 0.70}
}

// Level maps a probability to a risk label. The boundaries belong to the
// higher tier: 0.30 is Medium and 0.70 is High.
func (t Thresholds) Level(probability float64) string {
	if probability < t.Medium {
		return RiskLow
	}
	if probability < t.High {
		return RiskMedium
	}
	return RiskHigh
}

// Prediction is the per-target result of one request.
type Prediction struct {
	Prediction  int     `json:"prediction"`
	Probability float64 `json:"probability"`
	RiskLevel   string  `json:"risk_level"`
	Confidence  float64 `json:"confidence"`
}

// Metadata describes the trained artifacts; written by the training command.
type Metadata struct {
	ModelType    string             `json:"model_type"`
	DatasetSize  int                `json:"dataset_size"`
	DateRange    string             `json:"date_range"`
	FeatureCount int                `json:"feature_count"`
	Accuracies   map[string]float64 `json:"accuracies"`
	TrainedAt    time.Time          `json:"trained_at"`
}

// Bundle holds every artifact of one model generation: the forests, their
// scalers, the shared encoders and imputer, plus metadata. A bundle is
// immutable after load; reloads build a fresh bundle and swap it in.
type Bundle struct {
	models     map[string]*RandomForest
	scalers    map[string]*Scaler
	encoders   Encoders
	imputer    *Imputer
	metadata   Metadata
	thresholds Thresholds
}

// Status reports which artifacts of a bundle are present.
type Status struct {
	ModelsLoaded    bool               `json:"models_loaded"`
	AvailableModels []string           `json:"available_models"`
	ModelCount      int                `json:"model_count"`
	ScalersLoaded   []string           `json:"scalers_loaded"`
	EncodersLoaded  bool               `json:"encoders_loaded"`
	ImputerLoaded   bool               `json:"imputer_loaded"`
	ModelType       string             `json:"model_type"`
	DatasetInfo     DatasetInfo        `json:"dataset_info"`
	Accuracies      map[string]float64 `json:"-"`
}

// DatasetInfo summarizes the training data behind the bundle.
type DatasetInfo struct {
	Source     string             `json:"source"`
	Size       int                `json:"size"`
	Features   int                `json:"features"`
	Accuracies map[string]float64 `json:"accuracies"`
}

// ErrNoModels is returned when a models directory yields no usable forest.
var ErrNoModels = errors.New("no models loaded")

func forestFile(target string) string { return "rf_" + target + ".json" }
func scalerFile(target string) string { return "scaler_" + target + ".json" }

const (
	encodersFile = "encoders.json"
	imputerFile  = "imputer.json"
	metadataFile = "metadata.json"
)

// LoadBundle reads all artifacts from dir. Targets with a missing forest or
// scaler are logged and skipped; the bundle errors only when nothing loads.
func LoadBundle(dir string, thresholds Thresholds, log *zap.Logger) (*Bundle, error) {
	b := &Bundle{
		models:     make(map[string]*RandomForest),
		scalers:    make(map[string]*Scaler),
		thresholds: thresholds,
	}

	for _, target := range Targets() {
		forest, err := LoadForest(filepath.Join(dir, forestFile(target)))
		if err != nil {
			log.Warn("model file not loaded", zap.String("target", target), zap.Error(err))
			continue
		}
		scaler, err := LoadScaler(filepath.Join(dir, scalerFile(target)))
		if err != nil {
			log.Warn("scaler file not loaded", zap.String("target", target), zap.Error(err))
			continue
		}
		b.models[target] = forest
		b.scalers[target] = scaler
		log.Info("loaded model", zap.String("target", target), zap.Int("trees", len(forest.Trees)))
	}

	if len(b.models) == 0 {
		return nil, fmt.Errorf("%w from %s", ErrNoModels, dir)
	}

	encoders, err := LoadEncoders(filepath.Join(dir, encodersFile))
	if err != nil {
		log.Warn("encoders file not loaded", zap.Error(err))
	} else {
		b.encoders = encoders
	}

	imputer, err := LoadImputer(filepath.Join(dir, imputerFile))
	if err != nil {
		log.Warn("imputer file not loaded", zap.Error(err))
	} else {
		b.imputer = imputer
	}

	if payload, err := os.ReadFile(filepath.Join(dir, metadataFile)); err == nil {
		if err := json.Unmarshal(payload, &b.metadata); err != nil {
			log.Warn("metadata file not parsed", zap.Error(err))
		}
	}
	if b.metadata.ModelType == "" {
		b.metadata.ModelType = "Random Forest"
	}
	if b.metadata.FeatureCount == 0 {
		b.metadata.FeatureCount = len(FeatureNames())
	}

	log.Info("model bundle loaded",
		zap.Int("models", len(b.models)),
		zap.Strings("targets", b.AvailableTargets()),
		zap.Bool("encoders", b.encoders != nil),
		zap.Bool("imputer", b.imputer != nil))
	return b, nil
}

// Predict runs the preprocessing transform and every loaded model against
// one input.
func (b *Bundle) Predict(in EventInput) (map[string]Prediction, error) {
	vector := FeatureVector(in, b.encoders)
	if b.imputer != nil {
		imputed, err := b.imputer.Transform(vector)
		if err != nil {
			return nil, fmt.Errorf("impute features: %w", err)
		}
		vector = imputed
	}

	predictions := make(map[string]Prediction, len(b.models))
	for target, model := range b.models {
		scaled, err := b.scalers[target].Transform(vector)
		if err != nil {
			return nil, fmt.Errorf("scale features for %s: %w", target, err)
		}
		probability, err := model.PredictProba(scaled)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", target, err)
		}
		label := 0
		confidence := 1 - probability
		if probability >= 0.5 {
			label = 1
			confidence = probability
		}
		predictions[target] = Prediction{
			Prediction:  label,
			Probability: probability,
			RiskLevel:   b.thresholds.Level(probability),
			Confidence:  confidence,
		}
	}
	return predictions, nil
}

// AvailableTargets lists the targets with both a forest and a scaler loaded.
func (b *Bundle) AvailableTargets() []string {
	targets := make([]string, 0, len(b.models))
	for _, target := range Targets() {
		if _, ok := b.models[target]; ok {
			targets = append(targets, target)
		}
	}
	return targets
}

// Metadata returns the training metadata carried by the bundle.
func (b *Bundle) Metadata() Metadata {
	return b.metadata
}

// Thresholds returns the risk cut points the bundle serves with.
func (b *Bundle) Thresholds() Thresholds {
	return b.thresholds
}

// Status reports the bundle's artifact inventory.
func (b *Bundle) Status() Status {
	targets := b.AvailableTargets()
	return Status{
		ModelsLoaded:    len(targets) > 0,
		AvailableModels: targets,
		ModelCount:      len(targets),
		ScalersLoaded:   targets,
		EncodersLoaded:  b.encoders != nil,
		ImputerLoaded:   b.imputer != nil,
		ModelType:       b.metadata.ModelType,
		DatasetInfo: DatasetInfo{
			Source:     b.metadata.DateRange,
			Size:       b.metadata.DatasetSize,
			Features:   b.metadata.FeatureCount,
			Accuracies: b.metadata.Accuracies,
		},
	}
}

// SampleInput is the canned request served by the test-prediction endpoint.
func SampleInput() EventInput {
	magnitude := Number(7.0)
	depth := Number(25.0)
	latitude := Number(35.0)
	longitude := Number(139.0)
	cdi := Number(6)
	mmi := Number(5)
	sig := Number(700)
	return EventInput{
		Magnitude: &magnitude,
		Depth:     &depth,
		Latitude:  &latitude,
		Longitude: &longitude,
		CDI:       &cdi,
		MMI:       &mmi,
		Sig:       &sig,
		MagType:   "mw",
		Alert:     "yellow",
	}
}
