package models

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventSessionEnded = "session_ended"
	EventGradeUpdated = "grade_updated"
)

type SessionEndedEvent struct {
	SessionID int64         `json:"session_id"`
	ModuleID  int64         `json:"module_id"`
	Status    SessionStatus `json:"status"`
	Score     float64       `json:"score"`
	Passed    bool          `json:"passed"`
}

type GradeUpdatedEvent struct {
	ModuleID int64   `json:"module_id"`
	RawGrade float64 `json:"raw_grade"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Warning is returned with HTTP 200 when the player should show a notice
// instead of treating the call as a hard failure.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MutationResponse struct {
	OK      bool     `json:"ok"`
	Warning *Warning `json:"warning,omitempty"`
	Session *Session `json:"session,omitempty"`
}

type RequirementsResponse struct {
	ModuleID int64 `json:"module_id"`
	UserID   int64 `json:"user_id,omitempty"`
	Updated  bool  `json:"updated"`
}
