package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qubelab/qube-monitor/internal/models"
	"github.com/qubelab/qube-monitor/internal/protocol"
	"github.com/qubelab/qube-monitor/pkg/config"
	appErrors "github.com/qubelab/qube-monitor/pkg/errors"
)

// ApplyOutcome classifies what an incoming event did to aggregator state.
type ApplyOutcome string

const (
	// OutcomeChanged means a new record was created or the status code moved.
	OutcomeChanged ApplyOutcome = "changed"
	// OutcomeRefreshed means a repeat outside the duplicate window bumped
	// last-update without starting a new status window.
	OutcomeRefreshed ApplyOutcome = "refreshed"
	// OutcomeDuplicate means a retransmission inside the window was dropped.
	OutcomeDuplicate ApplyOutcome = "duplicate"
	// OutcomeNotAllowed means the student is not on the roster.
	OutcomeNotAllowed ApplyOutcome = "not_allowed"
)

// StatusAggregator converts the decoded event stream into a consistent,
// queryable per-student status map. All mutation is serialized behind one
// mutex; events must be applied in link order because status-start timestamps
// depend on strict sequential application.
type StatusAggregator struct {
	mu      sync.Mutex
	allowed map[int]string
	records map[int]*models.StatusRecord

	dupWindow time.Duration
	warnAfter time.Duration
	critAfter time.Duration

	eventLog *EventLog
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewStatusAggregator constructs the aggregator.
func NewStatusAggregator(cfg config.MonitorConfig, eventLog *EventLog, notifier Notifier, logger *zap.Logger) *StatusAggregator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dupWindow := cfg.DuplicateWindow
	if dupWindow <= 0 {
		dupWindow = 5 * time.Second
	}
	warnAfter := cfg.DurationWarning
	if warnAfter <= 0 {
		warnAfter = 2 * time.Minute
	}
	critAfter := cfg.DurationCritical
	if critAfter <= 0 {
		critAfter = 5 * time.Minute
	}
	return &StatusAggregator{
		allowed:   make(map[int]string),
		records:   make(map[int]*models.StatusRecord),
		dupWindow: dupWindow,
		warnAfter: warnAfter,
		critAfter: critAfter,
		eventLog:  eventLog,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply folds one decoded event into the status map.
func (a *StatusAggregator) Apply(event models.DecodedEvent) ApplyOutcome {
	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = a.now()
	}

	a.mu.Lock()
	name, ok := a.allowed[event.StudentID]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("event for student outside roster", zap.Int("student_id", event.StudentID))
		return OutcomeNotAllowed
	}

	record, exists := a.records[event.StudentID]
	if exists && record.Code == event.Code {
		if receivedAt.Sub(record.LastUpdate) < a.dupWindow {
			a.mu.Unlock()
			return OutcomeDuplicate
		}
		// Periodic re-announce from the device: proof of liveness, not a
		// status change. The waiting window keeps its original start.
		record.LastUpdate = receivedAt
		a.mu.Unlock()
		return OutcomeRefreshed
	}

	text, color := event.Code.Display()
	a.records[event.StudentID] = &models.StatusRecord{
		StudentID:   event.StudentID,
		StudentName: name,
		Code:        event.Code,
		StatusText:  text,
		Color:       color,
		StatusStart: receivedAt,
		LastUpdate:  receivedAt,
	}
	a.mu.Unlock()

	a.eventLog.Log(fmt.Sprintf("%s (%d): %s", name, event.StudentID, text), models.LogStatus)
	a.notifier.OnStudentStatusChanged(event.StudentID)
	return OutcomeChanged
}

// UpdateAllowList replaces the roster from a text block, one entry per line,
// either "123456" or "123456:Display Name". Bad lines are skipped, the rest
// of the roster still applies. Records of students no longer on the roster
// are deleted; records of students that remain are untouched.
func (a *StatusAggregator) UpdateAllowList(text string) (int, []string) {
	newAllowed := make(map[int]string)
	var skipped []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		idPart, name := line, ""
		if i := strings.Index(line, ":"); i >= 0 {
			idPart, name = strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
		}

		id, err := strconv.Atoi(idPart)
		if err != nil || id < protocol.MinStudentID || id > protocol.MaxStudentID {
			a.logger.Warn("skipping invalid roster line", zap.String("line", line))
			skipped = append(skipped, line)
			continue
		}
		if name == "" {
			name = fmt.Sprintf("Student %d", id)
		}
		newAllowed[id] = name
	}

	var removed []int
	a.mu.Lock()
	a.allowed = newAllowed
	for id := range a.records {
		if _, ok := newAllowed[id]; !ok {
			delete(a.records, id)
			removed = append(removed, id)
		}
	}
	a.mu.Unlock()

	message := fmt.Sprintf("Roster updated: %d students", len(newAllowed))
	if len(skipped) > 0 {
		message += fmt.Sprintf(", %d lines skipped", len(skipped))
	}
	a.eventLog.Log(message, models.LogInfo)
	for _, id := range removed {
		a.notifier.OnStudentStatusChanged(id)
	}
	return len(newAllowed), skipped
}

// SetRoster installs persisted roster entries, replacing the current list.
func (a *StatusAggregator) SetRoster(entries []models.RosterEntry) {
	newAllowed := make(map[int]string, len(entries))
	for _, entry := range entries {
		name := entry.Name
		if name == "" {
			name = fmt.Sprintf("Student %d", entry.StudentID)
		}
		newAllowed[entry.StudentID] = name
	}

	a.mu.Lock()
	a.allowed = newAllowed
	for id := range a.records {
		if _, ok := newAllowed[id]; !ok {
			delete(a.records, id)
		}
	}
	a.mu.Unlock()
}

// Roster returns the current allow-list sorted by student id.
func (a *StatusAggregator) Roster() []models.RosterEntry {
	a.mu.Lock()
	entries := make([]models.RosterEntry, 0, len(a.allowed))
	for id, name := range a.allowed {
		entries = append(entries, models.RosterEntry{StudentID: id, Name: name})
	}
	a.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].StudentID < entries[j].StudentID })
	return entries
}

// Resolve is the operator ending an interaction: the record flips to the
// Resolved state without the device sending anything.
func (a *StatusAggregator) Resolve(studentID int) error {
	a.mu.Lock()
	record, ok := a.records[studentID]
	if !ok {
		a.mu.Unlock()
		return appErrors.Clone(appErrors.ErrNotFound, "no status tracked for student")
	}
	text, color := models.StatusResolved.Display()
	record.Code = models.StatusResolved
	record.StatusText = text
	record.Color = color
	record.LastUpdate = a.now()
	name := record.StudentName
	a.mu.Unlock()

	a.eventLog.Log(fmt.Sprintf("%s (%d): resolved by teacher", name, studentID), models.LogStatus)
	a.notifier.OnStudentStatusChanged(studentID)
	return nil
}

// ClearStatuses drops all tracked records, keeping the roster.
func (a *StatusAggregator) ClearStatuses() {
	a.mu.Lock()
	cleared := make([]int, 0, len(a.records))
	for id := range a.records {
		cleared = append(cleared, id)
	}
	a.records = make(map[int]*models.StatusRecord)
	a.mu.Unlock()

	a.eventLog.Log("All student statuses cleared", models.LogInfo)
	for _, id := range cleared {
		a.notifier.OnStudentStatusChanged(id)
	}
}

// SortedView returns all records ordered by priority: help requests first
// (longest waiting on top), then questions, then the rest by student id.
// The ordering is recomputed per call; wait durations move with the clock.
func (a *StatusAggregator) SortedView() []models.StatusRecord {
	a.mu.Lock()
	view := make([]models.StatusRecord, 0, len(a.records))
	for _, record := range a.records {
		view = append(view, *record)
	}
	a.mu.Unlock()

	rank := func(code models.StatusCode) int {
		switch code {
		case models.StatusHelpNeeded:
			return 0
		case models.StatusQuestion:
			return 1
		default:
			return 2
		}
	}

	sort.SliceStable(view, func(i, j int) bool {
		ri, rj := rank(view[i].Code), rank(view[j].Code)
		if ri != rj {
			return ri < rj
		}
		if ri < 2 && !view[i].StatusStart.Equal(view[j].StatusStart) {
			return view[i].StatusStart.Before(view[j].StatusStart)
		}
		return view[i].StudentID < view[j].StudentID
	})
	return view
}

// DurationOf reports how long a student has been waiting in an active status.
// Resting states (Available, Resolved) have no meaningful duration.
func (a *StatusAggregator) DurationOf(studentID int) (models.StatusDuration, bool) {
	a.mu.Lock()
	record, ok := a.records[studentID]
	if !ok || !record.Code.Active() {
		a.mu.Unlock()
		return models.StatusDuration{}, false
	}
	start := record.StatusStart
	a.mu.Unlock()

	elapsed := a.now().Sub(start)
	tier := models.TierNormal
	switch {
	case elapsed > a.critAfter:
		tier = models.TierCritical
	case elapsed >= a.warnAfter:
		tier = models.TierWarning
	}
	return models.StatusDuration{Text: formatDuration(elapsed), Tier: tier}, true
}

// Counts returns roster size versus tracked record count.
func (a *StatusAggregator) Counts() models.RosterCounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.RosterCounts{Allowed: len(a.allowed), Tracked: len(a.records)}
}

func formatDuration(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}
