package metrics

import "sort"

// OnePercentLow returns the mean of the worst 1% of scores. With fewer than
// 100 samples the single worst score is used.
func OnePercentLow(scores []float64) float64 {
	return lowMean(scores, len(scores)/100)
}

// PointOnePercentLow returns the mean of the worst 0.1% of scores. With fewer
// than 1000 samples the single worst score is used.
func PointOnePercentLow(scores []float64) float64 {
	return lowMean(scores, len(scores)/1000)
}

func lowMean(scores []float64, count int) float64 {
	if len(scores) == 0 {
		return 0
	}
	if count < 1 {
		count = 1
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	var sum float64
	for _, score := range sorted[:count] {
		sum += score
	}
	return sum / float64(count)
}
