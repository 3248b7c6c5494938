package classify

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/erazemk/shramba/internal/imaging"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

// ErrNoPrediction is returned when the model answers without a usable label.
var ErrNoPrediction = errors.New("no prediction")

const prompt = `Identify the grocery or pantry item in this photo.
Answer with JSON only: {"predictions":[{"label":"<short item name>","confidence":<0..1>}]}
List at most 3 predictions, most likely first.`

// Gemini classifies captures with a Gemini vision model.
type Gemini struct {
	client  *genai.Client
	model   string
	imaging imaging.Options
}

// NewGemini creates a classifier using apiKey. An empty modelName selects DefaultModel.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Gemini{client: client, model: modelName}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Classify downscales the capture and asks the model to name the item.
func (g *Gemini) Classify(ctx context.Context, image []byte) ([]Prediction, error) {
	capture, err := imaging.Prepare(bytes.NewReader(image), g.imaging)
	if err != nil {
		return nil, fmt.Errorf("preparing capture: %w", err)
	}

	model := g.client.GenerativeModel(g.model)
	model.ResponseMIMEType = "application/json"

	res, err := model.GenerateContent(ctx, genai.ImageData("jpeg", capture.Data), genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if res.UsageMetadata != nil {
		slog.Debug("classification complete", "model", g.model, "tokens", res.UsageMetadata.TotalTokenCount)
	}

	var text strings.Builder
	for _, cand := range res.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		break
	}
	return parsePredictions(text.String())
}

// parsePredictions reads the model's JSON answer. Both an object with a
// predictions array and a bare array are accepted, optionally inside a
// markdown code fence.
func parsePredictions(raw string) ([]Prediction, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoPrediction
	}

	var preds []Prediction
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &preds); err != nil {
			return nil, fmt.Errorf("decoding predictions: %w", err)
		}
	} else {
		var wrapped struct {
			Predictions []Prediction `json:"predictions"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, fmt.Errorf("decoding predictions: %w", err)
		}
		preds = wrapped.Predictions
	}

	preds = slices.DeleteFunc(preds, func(p Prediction) bool {
		return strings.TrimSpace(p.Label) == ""
	})
	if len(preds) == 0 {
		return nil, ErrNoPrediction
	}
	for i := range preds {
		preds[i].Label = strings.TrimSpace(preds[i].Label)
	}
	slices.SortStableFunc(preds, func(a, b Prediction) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return preds, nil
}
