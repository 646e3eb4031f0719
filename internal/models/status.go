package models

import "time"

// StatusCode classifies a student's current need. Resolved is semantically
// Available but is kept distinct so operator interventions show up as such
// on the board and in the activity log.
type StatusCode string

const (
	StatusAvailable  StatusCode = "G"
	StatusQuestion   StatusCode = "V"
	StatusHelpNeeded StatusCode = "R"
	StatusResolved   StatusCode = "RESOLVED"
)

// Valid returns true when the code is a supported value.
func (c StatusCode) Valid() bool {
	switch c {
	case StatusAvailable, StatusQuestion, StatusHelpNeeded, StatusResolved:
		return true
	default:
		return false
	}
}

// Active reports whether the status represents an open request for attention.
func (c StatusCode) Active() bool {
	return c == StatusQuestion || c == StatusHelpNeeded
}

// Display returns the human label and severity color for the code.
func (c StatusCode) Display() (text string, color string) {
	switch c {
	case StatusAvailable:
		return "Available", "green"
	case StatusQuestion:
		return "Question", "orange"
	case StatusHelpNeeded:
		return "Help needed", "red"
	case StatusResolved:
		return "Resolved", "blue"
	default:
		return "Unknown", "gray"
	}
}

// DecodedEvent is one validated protocol line.
type DecodedEvent struct {
	StudentID  int        `json:"student_id"`
	Code       StatusCode `json:"code"`
	ReceivedAt time.Time  `json:"received_at"`
}

// StatusRecord tracks one student's current status. StatusStart marks when the
// current code was first observed and never moves while the code is unchanged;
// LastUpdate advances on every accepted event.
type StatusRecord struct {
	StudentID   int        `json:"student_id"`
	StudentName string     `json:"student_name"`
	Code        StatusCode `json:"code"`
	StatusText  string     `json:"status_text"`
	Color       string     `json:"color"`
	StatusStart time.Time  `json:"status_start"`
	LastUpdate  time.Time  `json:"last_update"`
}

// DurationTier grades how long a student has been waiting.
type DurationTier string

const (
	TierNormal   DurationTier = "normal"
	TierWarning  DurationTier = "warning"
	TierCritical DurationTier = "critical"
)

// StatusDuration reports elapsed waiting time for an active status.
type StatusDuration struct {
	Text string       `json:"text"`
	Tier DurationTier `json:"tier"`
}

// RosterEntry is one allowed student.
type RosterEntry struct {
	StudentID int    `db:"student_id" json:"student_id"`
	Name      string `db:"name" json:"name"`
}

// RosterCounts summarises roster size versus tracked statuses.
type RosterCounts struct {
	Allowed int `json:"allowed"`
	Tracked int `json:"tracked"`
}
