package domain

import "errors"

// Sentinel errors shared across the store, dialogue engine and handlers.
// Handlers map them to HTTP statuses with errors.Is.
var (
	// ErrNotFound covers entities that are absent or not owned by the
	// caller; the two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a task definition already exists for
	// a conversation.
	ErrConflict = errors.New("already exists")

	// ErrNoSchema is returned by the schema extractor when the text
	// contains no parseable ```json fenced block.
	ErrNoSchema = errors.New("no valid JSON schema found")

	// ErrNoAssistantMessage is returned when lazy extraction is requested
	// on a conversation with no assistant turns yet.
	ErrNoAssistantMessage = errors.New("no assistant response found in conversation")
)
