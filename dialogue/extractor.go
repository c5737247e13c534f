package dialogue

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/metra-ai/metra-server/domain"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ExtractSchema locates the first ```json fenced block in text and
// returns its contents as a validated JSON document. When several blocks
// are present the first occurrence wins, so extraction is deterministic.
// Any JSON value is accepted; schemas are usually objects but the block
// is not required to be one.
//
// Returns domain.ErrNoSchema when no block is found or its contents do
// not parse as JSON.
func ExtractSchema(text string) (json.RawMessage, error) {
	match := fencedJSONBlock.FindStringSubmatch(text)
	if match == nil {
		return nil, domain.ErrNoSchema
	}

	block := match[1]
	var doc interface{}
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoSchema, err)
	}

	return json.RawMessage(block), nil
}
