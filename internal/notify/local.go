package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Delivery is a reminder that fired
type Delivery struct {
	ReminderID string
	Payload    Payload
	Policy     Policy
	FiredAt    time.Time
}

// Presenter displays delivered reminders
type Presenter interface {
	Present(d Delivery)
}

// LogPresenter writes delivered reminders to the structured log
type LogPresenter struct{}

// Present logs the reminder according to its policy
func (LogPresenter) Present(d Delivery) {
	if !d.Policy.ShowAlert {
		slog.Debug("Reminder delivered silently", "reminder_id", d.ReminderID, "medicine_id", d.Payload.MedicineID)
		return
	}
	slog.Info(d.Payload.Title,
		"body", d.Payload.Body,
		"medicine_id", d.Payload.MedicineID,
		"reminder_id", d.ReminderID,
		"sound", d.Policy.PlaySound,
		"badge", d.Policy.SetBadge,
	)
}

// Local is an in-process Notifier backed by timers. Pending reminders do not
// survive a restart; callers resynchronize on startup.
type Local struct {
	mu        sync.Mutex
	timers    map[string]*time.Timer
	granted   bool
	policy    Policy
	presenter Presenter
}

// NewLocal creates a Local notifier. granted is the outcome every permission
// request returns.
func NewLocal(policy Policy, granted bool, presenter Presenter) *Local {
	if presenter == nil {
		presenter = LogPresenter{}
	}
	return &Local{
		timers:    make(map[string]*time.Timer),
		granted:   granted,
		policy:    policy,
		presenter: presenter,
	}
}

// RequestPermission returns the configured permission outcome
func (l *Local) RequestPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return Denied, err
	}
	if l.granted {
		return Granted, nil
	}
	return Denied, nil
}

// Schedule arms a timer firing at trigger. A trigger in the past fires
// immediately.
func (l *Local) Schedule(ctx context.Context, trigger time.Time, payload Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !l.granted {
		return "", ErrPermissionDenied
	}

	id := uuid.NewString()
	delay := max(time.Until(trigger), 0)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.timers[id] = time.AfterFunc(delay, func() { l.fire(id, payload) })

	slog.Debug("Reminder scheduled", "reminder_id", id, "medicine_id", payload.MedicineID, "trigger", trigger)
	return id, nil
}

func (l *Local) fire(id string, payload Payload) {
	l.mu.Lock()
	_, pending := l.timers[id]
	delete(l.timers, id)
	l.mu.Unlock()

	if !pending {
		return
	}
	l.presenter.Present(Delivery{
		ReminderID: id,
		Payload:    payload,
		Policy:     l.policy,
		FiredAt:    time.Now(),
	})
}

// Cancel stops a pending reminder
func (l *Local) Cancel(ctx context.Context, reminderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if timer, ok := l.timers[reminderID]; ok {
		timer.Stop()
		delete(l.timers, reminderID)
	}
	return nil
}

// Pending returns the number of reminders that have not fired yet
func (l *Local) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Close stops every pending reminder
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, timer := range l.timers {
		timer.Stop()
		delete(l.timers, id)
	}
	return nil
}
