package embeddings

import "math"

// CosineDistance is 1 - cosine similarity: 0 for identical direction, 1 for
// orthogonal, 2 for opposite. It is the same metric the store's vector
// ordering operator uses, so distances asserted in tests and distances
// returned by ranked queries agree.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 1
	}

	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
