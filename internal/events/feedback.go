// Package events defines event payloads published through the outbox.
package events

import "time"

// FeedbackSubmittedType is the outbox event type for new feedback.
const FeedbackSubmittedType = "feedback.submitted"

// FeedbackSubmitted is emitted when a feedback entry is accepted. Message text and
// contact details stay in Postgres.
type FeedbackSubmitted struct {
	FeedbackID    string    `json:"feedback_id"`
	Source        string    `json:"source"`
	HasEmail      bool      `json:"has_email"`
	MessageLength int       `json:"message_length"`
	SubmittedAt   time.Time `json:"submitted_at"`
}
