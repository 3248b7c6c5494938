// Package classify identifies pantry items in camera captures.
package classify

import (
	"context"
	"slices"
)

// Prediction is one candidate label for a capture.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier labels an image, best match first.
type Classifier interface {
	Classify(ctx context.Context, image []byte) ([]Prediction, error)
}

// Top returns the most confident non-empty label.
func Top(preds []Prediction) (Prediction, bool) {
	preds = slices.DeleteFunc(slices.Clone(preds), func(p Prediction) bool { return p.Label == "" })
	if len(preds) == 0 {
		return Prediction{}, false
	}
	return slices.MaxFunc(preds, func(a, b Prediction) int {
		switch {
		case a.Confidence < b.Confidence:
			return -1
		case a.Confidence > b.Confidence:
			return 1
		}
		return 0
	}), true
}
