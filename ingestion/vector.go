package ingestion

import "math"

// normalizeVector scales v to unit length so stored vectors compare by
// direction alone. It reports false for a zero vector.
func normalizeVector(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil, false
	}
	norm := float32(1 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out, true
}
