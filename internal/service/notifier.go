package service

// Notifier is the presentation-facing callback port. Implementations must
// return quickly and must not call back into the core; consumers re-read the
// relevant view after each notification instead of receiving snapshots.
type Notifier interface {
	OnConnectionStatus(text string, severity string)
	OnStudentStatusChanged(studentID int)
	OnLogUpdated()
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OnConnectionStatus(string, string) {}
func (NopNotifier) OnStudentStatusChanged(int)        {}
func (NopNotifier) OnLogUpdated()                     {}
