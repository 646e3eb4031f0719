package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qubelab/qube-monitor/internal/models"
	"github.com/qubelab/qube-monitor/pkg/config"
)

// EventLog is the bounded, append-only, categorized activity log. Entries are
// immutable once inserted; when the cap is exceeded the oldest entries are
// evicted. Logging never fails the caller.
type EventLog struct {
	mu         sync.Mutex
	entries    []models.LogEntry
	filters    map[models.LogCategory]bool
	maxEntries int
	displayCap int

	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewEventLog constructs the event log. Error entries are visible by default;
// the operator opts into the chattier categories.
func NewEventLog(cfg config.MonitorConfig, notifier Notifier, logger *zap.Logger) *EventLog {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxEntries := cfg.MaxLogEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	displayCap := cfg.LogDisplayEntries
	if displayCap <= 0 {
		displayCap = 200
	}
	return &EventLog{
		filters: map[models.LogCategory]bool{
			models.LogStatus: false,
			models.LogError:  true,
			models.LogHealth: false,
			models.LogInfo:   false,
		},
		maxEntries: maxEntries,
		displayCap: displayCap,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Log appends a timestamped entry, evicting the oldest beyond the cap.
func (l *EventLog) Log(message string, category models.LogCategory) {
	if !category.Valid() {
		category = models.LogInfo
	}

	entry := models.LogEntry{
		Timestamp: l.now(),
		Category:  category,
		Message:   message,
		Color:     category.Color(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if excess := len(l.entries) - l.maxEntries; excess > 0 {
		l.entries = append(l.entries[:0], l.entries[excess:]...)
	}
	l.mu.Unlock()

	l.logger.Debug("event_log",
		zap.String("category", string(category)),
		zap.String("message", message))
	l.notifier.OnLogUpdated()
}

// FilteredEntries returns entries in enabled categories, bounded to the most
// recent display cap, in chronological order.
func (l *EventLog) FilteredEntries() []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := make([]models.LogEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		if l.filters[entry.Category] {
			filtered = append(filtered, entry)
		}
	}
	if len(filtered) > l.displayCap {
		filtered = filtered[len(filtered)-l.displayCap:]
	}
	return filtered
}

// SetFilter toggles visibility of one category.
func (l *EventLog) SetFilter(category models.LogCategory, enabled bool) {
	if !category.Valid() {
		return
	}
	l.mu.Lock()
	l.filters[category] = enabled
	l.mu.Unlock()
	l.notifier.OnLogUpdated()
}

// Filters returns a copy of the current filter settings.
func (l *EventLog) Filters() map[models.LogCategory]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[models.LogCategory]bool, len(l.filters))
	for category, enabled := range l.filters {
		out[category] = enabled
	}
	return out
}

// Clear empties the log and records that it was cleared.
func (l *EventLog) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
	l.Log("Activity log cleared", models.LogInfo)
}

// AllEntries returns a copy of every retained entry regardless of filters.
func (l *EventLog) AllEntries() []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]models.LogEntry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// Export serializes all retained entries, not just the displayed ones.
func (l *EventLog) Export() string {
	l.mu.Lock()
	entries := make([]models.LogEntry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Qube Monitor Log Export - %s\n", l.now().Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", entry.Timestamp.Format("15:04:05"), entry.Category, entry.Message)
	}
	return b.String()
}

// Stats counts retained entries per category.
func (l *EventLog) Stats() map[models.LogCategory]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := make(map[models.LogCategory]int, 4)
	for _, category := range models.LogCategories() {
		stats[category] = 0
	}
	for _, entry := range l.entries {
		stats[entry.Category]++
	}
	return stats
}
