// Package pipeline validates raw earthquake records before training.
package pipeline

import (
	"fmt"
	"math"
	"time"

	"quakerisk/ml"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*ml.Record) error
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Rule      string    `json:"rule"`
	Message   string    `json:"message"`
	Row       int       `json:"row"`
	Timestamp time.Time `json:"timestamp"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int            `json:"total_processed"`
	Passed         int            `json:"passed"`
	Rejected       int            `json:"rejected"`
	Issues         map[string]int `json:"issues"`
	LastClean      time.Time      `json:"last_clean"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules  []CleaningRule
	issues []QualityIssue
	stats  CleaningStats
}

// NewDataCleaner 创建带默认规则的数据清洗器
func NewDataCleaner() *DataCleaner {
	cleaner := &DataCleaner{
		stats: CleaningStats{Issues: make(map[string]int)},
	}

	cleaner.AddRule(MagnitudeRule{})
	cleaner.AddRule(DepthRule{})
	cleaner.AddRule(CoordinateRule{})
	cleaner.AddRule(NewDuplicateRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Clean 逐条应用规则，返回通过的记录和全部质量问题
func (dc *DataCleaner) Clean(records []ml.Record) ([]ml.Record, []QualityIssue) {
	var cleaned []ml.Record
	var issues []QualityIssue

	for i := range records {
		dc.stats.TotalProcessed++

		rejected := false
		for _, rule := range dc.rules {
			if err := rule.Apply(&records[i]); err != nil {
				issue := QualityIssue{
					Rule:      rule.Name(),
					Message:   err.Error(),
					Row:       i,
					Timestamp: time.Now(),
				}
				issues = append(issues, issue)
				dc.stats.Issues[rule.Name()]++
				rejected = true
			}
		}

		if rejected {
			dc.stats.Rejected++
			continue
		}
		dc.stats.Passed++
		cleaned = append(cleaned, records[i])
	}

	dc.stats.LastClean = time.Now()
	dc.issues = append(dc.issues, issues...)
	return cleaned, issues
}

// Stats 返回清洗统计
func (dc *DataCleaner) Stats() CleaningStats {
	return dc.stats
}

// MagnitudeRule 震级范围校验
type MagnitudeRule struct{}

func (MagnitudeRule) Name() string { return "magnitude_range" }

func (MagnitudeRule) Apply(r *ml.Record) error {
	if math.IsNaN(r.Magnitude) {
		return nil // filled by the median imputation step
	}
	if r.Magnitude < 0 || r.Magnitude > 10 {
		return fmt.Errorf("magnitude %.2f out of range [0, 10]", r.Magnitude)
	}
	return nil
}

// DepthRule 震源深度校验
type DepthRule struct{}

func (DepthRule) Name() string { return "depth_range" }

func (DepthRule) Apply(r *ml.Record) error {
	if math.IsNaN(r.Depth) {
		return nil
	}
	if r.Depth < -10 || r.Depth > 750 {
		return fmt.Errorf("depth %.1f km out of range [-10, 750]", r.Depth)
	}
	return nil
}

// CoordinateRule 经纬度校验
type CoordinateRule struct{}

func (CoordinateRule) Name() string { return "coordinates" }

func (CoordinateRule) Apply(r *ml.Record) error {
	if !math.IsNaN(r.Latitude) && (r.Latitude < -90 || r.Latitude > 90) {
		return fmt.Errorf("latitude %.4f out of range", r.Latitude)
	}
	if !math.IsNaN(r.Longitude) && (r.Longitude < -180 || r.Longitude > 180) {
		return fmt.Errorf("longitude %.4f out of range", r.Longitude)
	}
	return nil
}

// DuplicateRule 重复记录检测：同一日期同一位置同一震级视为重复
type DuplicateRule struct {
	seen map[string]bool
}

func NewDuplicateRule() *DuplicateRule {
	return &DuplicateRule{seen: make(map[string]bool)}
}

func (*DuplicateRule) Name() string { return "duplicate" }

func (d *DuplicateRule) Apply(r *ml.Record) error {
	key := fmt.Sprintf("%s|%.4f|%.4f|%.2f", r.Date, r.Latitude, r.Longitude, r.Magnitude)
	if d.seen[key] {
		return fmt.Errorf("duplicate event at %s (%.4f, %.4f)", r.Date, r.Latitude, r.Longitude)
	}
	d.seen[key] = true
	return nil
}
