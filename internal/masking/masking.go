// ABOUTME: PII masking collaborator interface and result types
// ABOUTME: Masks JSON request bodies and text response bodies by category

package masking

import (
	"context"
)

// Detection is one detected PII category with its occurrence count.
type Detection struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// JSONResult is the outcome of masking a parsed JSON value.
type JSONResult struct {
	MaskedData       any         `json:"maskedData"`
	DetectedCount    int         `json:"detectedCount"`
	DetectedPIIList  []Detection `json:"detectedPiiList"`
	ProcessingTimeMs int64       `json:"processingTimeMs"`
}

// TextResult is the outcome of masking an opaque text payload. Response
// bodies are always masked as text because their content type is arbitrary.
type TextResult struct {
	MaskedText       string      `json:"maskedText"`
	DetectedCount    int         `json:"detectedCount"`
	DetectedPIIList  []Detection `json:"detectedPiiList"`
	ProcessingTimeMs int64       `json:"processingTimeMs"`
}

// Masker is the masking library boundary. Callers treat every failure as
// fail-open: the original content proceeds unmasked.
type Masker interface {
	MaskJSON(ctx context.Context, value any, categories []string) (*JSONResult, error)
	MaskText(ctx context.Context, text string, categories []string) (*TextResult, error)
}

// SumDetections adds up per-category counts and returns the total together
// with the deduplicated category names, preserving first-seen order.
func SumDetections(detections []Detection) (total int, categories []string) {
	seen := make(map[string]bool, len(detections))
	for _, d := range detections {
		total += d.Count
		if !seen[d.Category] {
			seen[d.Category] = true
			categories = append(categories, d.Category)
		}
	}
	return total, categories
}
