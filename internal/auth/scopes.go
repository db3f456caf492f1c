package auth

// Scopes understood by the API.
const (
	ScopeFeedbackRead = "feedback:read"
)
