package medicine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/medtrack/internal/expiry"
	"github.com/zombor/medtrack/internal/notify"
)

// DefaultLeadDays is how long before the expiry month a reminder fires
const DefaultLeadDays = 30

const reminderTitle = "Medicine expiring soon"

// Reconciler keeps scheduled reminders in agreement with the medicines.
// It never modifies medicines, and it never returns errors: losing a
// reminder must not block saving a record, so failures are logged.
// Calls are serialized so a medicine is never bound to two reminders.
type Reconciler struct {
	mu         sync.Mutex
	bindings   BindingStore
	notifier   notify.Notifier
	probe      notify.DeviceProbe
	timeSource TimeSource
	leadDays   int
}

// NewReconciler creates a Reconciler using the wall clock
func NewReconciler(bindings BindingStore, notifier notify.Notifier, probe notify.DeviceProbe, leadDays int) *Reconciler {
	return NewReconcilerWithDeps(bindings, notifier, probe, leadDays, &defaultTimeSource{})
}

// NewReconcilerWithDeps creates a Reconciler with a custom clock for testing
func NewReconcilerWithDeps(bindings BindingStore, notifier notify.Notifier, probe notify.DeviceProbe, leadDays int, timeSrc TimeSource) *Reconciler {
	if leadDays < 0 {
		leadDays = DefaultLeadDays
	}
	return &Reconciler{
		bindings:   bindings,
		notifier:   notifier,
		probe:      probe,
		timeSource: timeSrc,
		leadDays:   leadDays,
	}
}

// Schedule schedules the reminder of a medicine with the configured lead time
func (r *Reconciler) Schedule(ctx context.Context, m *Medicine) *Binding {
	return r.SchedulePriorToExpiry(ctx, m, r.leadDays)
}

// SchedulePriorToExpiry schedules a reminder leadDays before the first of
// the expiry month. It returns nil without scheduling when the expiry date is
// unknown, the device cannot deliver reminders, the trigger is already in the
// past, or permission is denied. An existing reminder for the medicine is
// replaced.
func (r *Reconciler) SchedulePriorToExpiry(ctx context.Context, m *Medicine, leadDays int) *Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schedule(ctx, m, leadDays)
}

func (r *Reconciler) schedule(ctx context.Context, m *Medicine, leadDays int) *Binding {
	month, ok := expiry.Parse(m.ExpiryDate)
	if !ok {
		slog.Debug("Not scheduling reminder without expiry date", "medicine_id", m.ID)
		return nil
	}
	if !r.probe.IsPhysicalDevice() {
		slog.Debug("Not scheduling reminder on a device without notifications", "medicine_id", m.ID)
		return nil
	}

	now := r.timeSource.Now()
	trigger := month.Start(now.Location()).AddDate(0, 0, -leadDays)
	if trigger.Before(now) {
		slog.Debug("Not scheduling reminder in the past", "medicine_id", m.ID, "trigger", trigger)
		return nil
	}

	permission, err := r.notifier.RequestPermission(ctx)
	if err != nil {
		slog.Warn("Failed to request notification permission", "error", err)
		return nil
	}
	if permission != notify.Granted {
		slog.Info("Notification permission denied", "medicine_id", m.ID)
		return nil
	}

	r.cancel(ctx, m.ID)

	reminderID, err := r.notifier.Schedule(ctx, trigger, notify.Payload{
		Title:      reminderTitle,
		Body:       fmt.Sprintf("%s expires %s", m.Name, m.ExpiryDate),
		MedicineID: m.ID,
	})
	if err != nil {
		slog.Error("Failed to schedule reminder", "medicine_id", m.ID, "error", err)
		return nil
	}

	if err := r.bindings.SaveBinding(m.ID, reminderID); err != nil {
		slog.Error("Failed to save reminder binding", "medicine_id", m.ID, "reminder_id", reminderID, "error", err)
		if err := r.notifier.Cancel(ctx, reminderID); err != nil {
			slog.Warn("Failed to cancel unbound reminder", "reminder_id", reminderID, "error", err)
		}
		return nil
	}

	slog.Info("Reminder scheduled", "medicine_id", m.ID, "reminder_id", reminderID, "trigger", trigger)
	return &Binding{MedicineID: m.ID, ReminderID: reminderID, TriggerAt: trigger}
}

// Cancel cancels the reminder of a medicine, if any. The binding is removed
// even when the notifier fails, so it can never point at a forgotten
// reminder. Unknown ids are a no-op.
func (r *Reconciler) Cancel(ctx context.Context, medicineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel(ctx, medicineID)
}

func (r *Reconciler) cancel(ctx context.Context, medicineID string) {
	reminderID, err := r.bindings.GetBinding(medicineID)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		slog.Warn("Failed to read reminder binding", "medicine_id", medicineID, "error", err)
	} else if err := r.notifier.Cancel(ctx, reminderID); err != nil {
		slog.Warn("Failed to cancel reminder", "medicine_id", medicineID, "reminder_id", reminderID, "error", err)
	}

	if err := r.bindings.DeleteBinding(medicineID); err != nil {
		slog.Error("Failed to delete reminder binding", "medicine_id", medicineID, "error", err)
	}
}

// ReconcileAll cancels every reminder and schedules one per medicine again.
// Running it twice with the same medicines yields the same binding keys.
func (r *Reconciler) ReconcileAll(ctx context.Context, medicines []*Medicine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bindings, err := r.bindings.ListBindings()
	if err != nil {
		slog.Warn("Failed to list reminder bindings", "error", err)
	}
	for medicineID, reminderID := range bindings {
		if err := r.notifier.Cancel(ctx, reminderID); err != nil {
			slog.Warn("Failed to cancel reminder", "medicine_id", medicineID, "reminder_id", reminderID, "error", err)
		}
	}
	if err := r.bindings.ClearBindings(); err != nil {
		slog.Error("Failed to clear reminder bindings", "error", err)
	}

	scheduled := 0
	for _, m := range medicines {
		if r.schedule(ctx, m, r.leadDays) != nil {
			scheduled++
		}
	}
	slog.Info("Reminders reconciled", "medicines", len(medicines), "scheduled", scheduled)
}

// Bindings returns the current binding table, empty if it cannot be read
func (r *Reconciler) Bindings() map[string]string {
	bindings, err := r.bindings.ListBindings()
	if err != nil {
		slog.Warn("Failed to list reminder bindings", "error", err)
		return map[string]string{}
	}
	return bindings
}
