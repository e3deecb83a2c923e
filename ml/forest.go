package ml

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"os"
)

// TreeNode is a single node of a decision tree. Leaves carry the class
// distribution observed during training so the tree can emit probabilities.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Positives  int     `json:"positives"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

// DecisionTree is a binary classification tree stored as a flat node slice.
type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

// PredictProba walks the tree and returns the positive-class fraction of the
// reached leaf.
func (dt *DecisionTree) PredictProba(features []float64) (float64, error) {
	if len(dt.Nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			if node.Samples == 0 {
				return 0, nil
			}
			return float64(node.Positives) / float64(node.Samples), nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// RandomForest averages the probability estimates of its trees.
type RandomForest struct {
	Trees        []DecisionTree `json:"trees"`
	FeatureCount int            `json:"feature_count"`
}

// ForestConfig holds the training hyperparameters.
type ForestConfig struct {
	Trees    int
	MaxDepth int
	Seed     int64
}

// TrainForest fits a random forest with bootstrap sampling and per-node
// feature subsampling (sqrt of the feature count).
func TrainForest(features [][]float64, labels []int, cfg ForestConfig) (*RandomForest, error) {
	if len(features) == 0 || len(labels) == 0 {
		return nil, errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return nil, errors.New("features and labels size mismatch")
	}
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}

	featureCount := len(features[0])
	candidates := int(math.Ceil(math.Sqrt(float64(featureCount))))
	rng := rand.New(rand.NewSource(cfg.Seed))

	forest := &RandomForest{
		Trees:        make([]DecisionTree, 0, cfg.Trees),
		FeatureCount: featureCount,
	}
	for i := 0; i < cfg.Trees; i++ {
		sampleX, sampleY := bootstrapSample(features, labels, rng)
		tree := DecisionTree{}
		tree.Nodes = buildNode(sampleX, sampleY, 0, cfg.MaxDepth, candidates, rng)
		forest.Trees = append(forest.Trees, tree)
	}
	return forest, nil
}

// PredictProba returns the forest-averaged positive-class probability.
func (rf *RandomForest) PredictProba(features []float64) (float64, error) {
	if len(rf.Trees) == 0 {
		return 0, errors.New("model not trained")
	}
	if len(features) != rf.FeatureCount {
		return 0, errors.New("feature vector size mismatch")
	}
	sum := 0.0
	for i := range rf.Trees {
		p, err := rf.Trees[i].PredictProba(features)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(rf.Trees)), nil
}

// Predict returns the majority class and the confidence of that class.
func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	p, err := rf.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	if p >= 0.5 {
		return 1, p, nil
	}
	return 0, 1 - p, nil
}

// Save writes the forest as JSON.
func (rf *RandomForest) Save(path string) error {
	if len(rf.Trees) == 0 {
		return errors.New("model not trained")
	}
	payload, err := json.Marshal(rf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// LoadForest reads a forest saved by Save.
func LoadForest(path string) (*RandomForest, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var forest RandomForest
	if err := json.Unmarshal(payload, &forest); err != nil {
		return nil, err
	}
	if len(forest.Trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	return &forest, nil
}

func bootstrapSample(features [][]float64, labels []int, rng *rand.Rand) ([][]float64, []int) {
	n := len(features)
	sampleX := make([][]float64, n)
	sampleY := make([]int, n)
	for i := 0; i < n; i++ {
		idx := rng.Intn(n)
		sampleX[i] = features[idx]
		sampleY[i] = labels[idx]
	}
	return sampleX, sampleY
}

func buildNode(features [][]float64, labels []int, depth, maxDepth, candidates int, rng *rand.Rand) []TreeNode {
	positives, samples := countPositives(labels)
	if depth >= maxDepth || isPure(labels) {
		return []TreeNode{leafNode(positives, samples)}
	}

	bestFeature, threshold, ok := findBestSplit(features, labels, candidates, rng)
	if !ok {
		return []TreeNode{leafNode(positives, samples)}
	}

	leftFeatures, leftLabels, rightFeatures, rightLabels := splitData(features, labels, bestFeature, threshold)
	if len(leftLabels) == 0 || len(rightLabels) == 0 {
		return []TreeNode{leafNode(positives, samples)}
	}

	leftNodes := buildNode(leftFeatures, leftLabels, depth+1, maxDepth, candidates, rng)
	rightNodes := buildNode(rightFeatures, rightLabels, depth+1, maxDepth, candidates, rng)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		Positives:  positives,
		Samples:    samples,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, rebase(leftNodes, 1)...)
	nodes = append(nodes, rebase(rightNodes, 1+len(leftNodes))...)
	return nodes
}

func leafNode(positives, samples int) TreeNode {
	return TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Positives:  positives,
		Samples:    samples,
		IsLeaf:     true,
	}
}

// rebase shifts the subtree's child indices, which buildNode emits relative
// to the subtree start, to their final positions in the flat slice.
func rebase(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += offset
		nodes[i].RightChild += offset
	}
	return nodes
}

func findBestSplit(features [][]float64, labels []int, candidates int, rng *rand.Rand) (int, float64, bool) {
	featureCount := len(features[0])
	if candidates <= 0 || candidates > featureCount {
		candidates = featureCount
	}

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	for _, featureIdx := range rng.Perm(featureCount)[:candidates] {
		values := make([]float64, len(features))
		for i := range features {
			values[i] = features[i][featureIdx]
		}
		threshold := median(values)
		leftLabels, rightLabels := splitLabels(features, labels, featureIdx, threshold)
		if len(leftLabels) == 0 || len(rightLabels) == 0 {
			continue
		}
		impurity := weightedGini(leftLabels, rightLabels)
		if impurity < bestImpurity {
			bestImpurity = impurity
			bestFeature = featureIdx
			bestThreshold = threshold
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func splitData(features [][]float64, labels []int, featureIdx int, threshold float64) ([][]float64, []int, [][]float64, []int) {
	leftFeatures := make([][]float64, 0)
	leftLabels := make([]int, 0)
	rightFeatures := make([][]float64, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftFeatures, leftLabels, rightFeatures, rightLabels
}

func splitLabels(features [][]float64, labels []int, featureIdx int, threshold float64) ([]int, []int) {
	leftLabels := make([]int, 0)
	rightLabels := make([]int, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightLabels = append(rightLabels, labels[i])
		}
	}
	return leftLabels, rightLabels
}

func weightedGini(leftLabels, rightLabels []int) float64 {
	leftWeight := float64(len(leftLabels))
	rightWeight := float64(len(rightLabels))
	total := leftWeight + rightWeight
	return (leftWeight/total)*gini(leftLabels) + (rightWeight/total)*gini(rightLabels)
}

func gini(labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	positives, samples := countPositives(labels)
	p := float64(positives) / float64(samples)
	return 1 - p*p - (1-p)*(1-p)
}

func countPositives(labels []int) (int, int) {
	positives := 0
	for _, label := range labels {
		if label == 1 {
			positives++
		}
	}
	return positives, len(labels)
}

func isPure(labels []int) bool {
	if len(labels) == 0 {
		return true
	}
	first := labels[0]
	for _, label := range labels[1:] {
		if label != first {
			return false
		}
	}
	return true
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sortFloats(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func sortFloats(values []float64) {
	for i := 1; i < len(values); i++ {
		j := i
		for j > 0 && values[j-1] > values[j] {
			values[j-1], values[j] = values[j], values[j-1]
			j--
		}
	}
}
