// Package sentiment attaches model classifications to stored headlines.
package sentiment

// FinBERT emits probabilities in a fixed order. This table is the only
// place that order is declared; every call site that interprets a
// probability vector goes through it. Do not reorder.
var LabelOrder = [3]string{"negative", "neutral", "positive"}

// Indexes into LabelOrder and into any probability vector in model order.
const (
	IdxNegative = 0
	IdxNeutral  = 1
	IdxPositive = 2
)

// LabelFor returns the label for a probability triple given in model order.
// Ties resolve to the earliest index, matching argmax semantics.
func LabelFor(probs [3]float64) string {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return LabelOrder[best]
}

// ScalarScore reduces a probability triple to the signed sentiment value the
// feature engine aggregates: positive minus negative, in [-1, 1]. Neutral
// mass pulls the value toward zero by taking probability from both ends.
func ScalarScore(pos, neg float64) float64 {
	return pos - neg
}
