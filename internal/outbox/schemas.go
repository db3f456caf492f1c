package outbox

import "github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/events"

const feedbackSubmittedSchema = `{
  "type": "object",
  "title": "FeedbackSubmitted",
  "properties": {
    "feedback_id": {"type": "string"},
    "source": {"type": "string"},
    "has_email": {"type": "boolean"},
    "message_length": {"type": "integer", "minimum": 1},
    "submitted_at": {"type": "string", "format": "date-time"}
  },
  "required": ["feedback_id", "source", "has_email", "message_length", "submitted_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.FeedbackSubmittedType: {Schema: feedbackSubmittedSchema},
}
