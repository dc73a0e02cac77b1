// Package metrics parses libvmaf JSON reports and aggregates them into
// per-frame rows and pooled summaries.
package metrics

import (
	"encoding/json"
	"fmt"
)

// Frame metric keys as libvmaf writes them.
const (
	KeyVMAF   = "vmaf"
	KeyPSNR   = "psnr_y"
	KeyMSSSIM = "float_ms_ssim"
)

// Report is a parsed libvmaf JSON report.
type Report struct {
	Frames        []ReportFrame            `json:"frames"`
	PooledMetrics map[string]PooledSummary `json:"pooled_metrics"`
}

// ReportFrame carries the per-frame scores for every computed metric.
type ReportFrame struct {
	FrameNum int64              `json:"frameNum"`
	Metrics  map[string]float64 `json:"metrics"`
}

// PooledSummary is libvmaf's own pooled block for one metric.
type PooledSummary struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	HarmonicMean float64 `json:"harmonic_mean"`
}

// ParseReport decodes a libvmaf JSON report.
func ParseReport(data []byte) (*Report, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing metrics report: %w", err)
	}
	if len(report.Frames) == 0 {
		return nil, fmt.Errorf("metrics report has no frames")
	}
	return &report, nil
}

// Scores collects the per-frame values for one metric key, in frame order.
// Frames missing the key are skipped.
func (r *Report) Scores(key string) []float64 {
	var scores []float64
	for _, frame := range r.Frames {
		if value, ok := frame.Metrics[key]; ok {
			scores = append(scores, value)
		}
	}
	return scores
}

// Pooled returns the first pooled block found under the given keys. libvmaf
// versions differ on naming ("psnr" vs "psnr_y", "ms_ssim" vs
// "float_ms_ssim"), so callers pass the alternatives in preference order.
func (r *Report) Pooled(keys ...string) (PooledSummary, bool) {
	for _, key := range keys {
		if summary, ok := r.PooledMetrics[key]; ok {
			return summary, true
		}
	}
	return PooledSummary{}, false
}
