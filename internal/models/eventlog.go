package models

import "time"

// LogCategory classifies event log entries.
type LogCategory string

const (
	LogStatus LogCategory = "STATUS"
	LogError  LogCategory = "ERROR"
	LogHealth LogCategory = "HEALTH"
	LogInfo   LogCategory = "INFO"
)

// Valid returns true when the category is a supported value.
func (c LogCategory) Valid() bool {
	switch c {
	case LogStatus, LogError, LogHealth, LogInfo:
		return true
	default:
		return false
	}
}

// Color returns the display color associated with the category.
func (c LogCategory) Color() string {
	switch c {
	case LogStatus:
		return "#0066CC"
	case LogError:
		return "#CC0000"
	case LogHealth:
		return "#FF6600"
	default:
		return "#000000"
	}
}

// LogCategories lists all categories in display order.
func LogCategories() []LogCategory {
	return []LogCategory{LogStatus, LogError, LogHealth, LogInfo}
}

// LogEntry is one immutable event log record.
type LogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Category  LogCategory `json:"category"`
	Message   string      `json:"message"`
	Color     string      `json:"color"`
}
