// Package dialogue implements the schema-building conversation engine:
// prompt construction, streaming turns, completion detection and schema
// extraction.
package dialogue

import "strings"

// Classifier decides whether an assistant reply carries a completed
// schema proposal. A true verdict is a heuristic signal, not a guarantee
// that extraction will succeed.
type Classifier interface {
	SchemaReady(text string) bool
}

// MarkerClassifier classifies by scanning for known completion markers.
// Any single marker is sufficient; there is no weighting.
type MarkerClassifier struct {
	markers []string
}

// Ensure MarkerClassifier implements Classifier interface.
var _ Classifier = (*MarkerClassifier)(nil)

// defaultMarkers are the phrases the system prompt instructs the
// assistant to use when it has gathered enough information, plus the
// fence tag of the schema block itself.
var defaultMarkers = []string{
	"I now have enough information",
	"Here's what I've designed",
	"```json",
}

// NewMarkerClassifier creates a classifier with the default marker set.
func NewMarkerClassifier() *MarkerClassifier {
	return &MarkerClassifier{markers: defaultMarkers}
}

// NewMarkerClassifierWith creates a classifier with a custom marker set.
func NewMarkerClassifierWith(markers []string) *MarkerClassifier {
	return &MarkerClassifier{markers: markers}
}

// SchemaReady reports whether text contains any completion marker.
func (c *MarkerClassifier) SchemaReady(text string) bool {
	for _, marker := range c.markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
