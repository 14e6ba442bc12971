package medicine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/medtrack/internal/notify"
)

type scheduledReminder struct {
	trigger time.Time
	payload notify.Payload
}

// mockNotifier records every call made to it
type mockNotifier struct {
	permission     notify.Permission
	permissionErr  error
	scheduleErr    error
	cancelErr      error
	scheduled      map[string]scheduledReminder
	canceled       []string
	permissionAsks int
	next           int
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{
		permission: notify.Granted,
		scheduled:  make(map[string]scheduledReminder),
	}
}

func (m *mockNotifier) RequestPermission(ctx context.Context) (notify.Permission, error) {
	m.permissionAsks++
	if m.permissionErr != nil {
		return notify.Denied, m.permissionErr
	}
	return m.permission, nil
}

func (m *mockNotifier) Schedule(ctx context.Context, trigger time.Time, payload notify.Payload) (string, error) {
	if m.scheduleErr != nil {
		return "", m.scheduleErr
	}
	m.next++
	id := fmt.Sprintf("rem-%d", m.next)
	m.scheduled[id] = scheduledReminder{trigger: trigger, payload: payload}
	return id, nil
}

func (m *mockNotifier) Cancel(ctx context.Context, reminderID string) error {
	m.canceled = append(m.canceled, reminderID)
	delete(m.scheduled, reminderID)
	return m.cancelErr
}

var _ = Describe("Reconciler", func() {
	var (
		ctx        context.Context
		db         *mockDB
		notifier   *mockNotifier
		probe      notify.StaticProbe
		timeSrc    *mockTimeSource
		reconciler *Reconciler
		medicine   *Medicine
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = newMockDB()
		notifier = newMockNotifier()
		probe = notify.StaticProbe(true)
		timeSrc = &mockTimeSource{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
		medicine = &Medicine{ID: "med-1", Name: "Amoxicillin", ExpiryDate: "07/2024"}
	})

	JustBeforeEach(func() {
		reconciler = NewReconcilerWithDeps(db, notifier, probe, DefaultLeadDays, timeSrc)
	})

	Describe("SchedulePriorToExpiry", func() {
		var binding *Binding

		JustBeforeEach(func() {
			binding = reconciler.SchedulePriorToExpiry(ctx, medicine, 30)
		})

		When("the trigger is not in the past", func() {
			It("should trigger lead days before the first of the month", func() {
				Expect(binding).NotTo(BeNil())
				Expect(binding.TriggerAt).To(Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
			})

			It("should store the binding", func() {
				Expect(db.bindings).To(Equal(map[string]string{"med-1": binding.ReminderID}))
			})

			It("should send a payload naming the medicine", func() {
				payload := notifier.scheduled[binding.ReminderID].payload
				Expect(payload.MedicineID).To(Equal("med-1"))
				Expect(payload.Title).NotTo(BeEmpty())
				Expect(payload.Body).To(ContainSubstring("Amoxicillin"))
				Expect(payload.Body).To(ContainSubstring("07/2024"))
			})
		})

		When("the trigger is in the past", func() {
			BeforeEach(func() {
				timeSrc.now = time.Date(2024, 6, 1, 0, 0, 1, 0, time.UTC)
			})

			It("should not schedule anything", func() {
				Expect(binding).To(BeNil())
				Expect(notifier.scheduled).To(BeEmpty())
				Expect(db.bindings).To(BeEmpty())
			})
		})

		When("the expiry date is unknown", func() {
			BeforeEach(func() {
				medicine.ExpiryDate = ""
			})

			It("should not schedule anything", func() {
				Expect(binding).To(BeNil())
				Expect(notifier.permissionAsks).To(BeZero())
			})
		})

		When("the expiry date is malformed", func() {
			BeforeEach(func() {
				medicine.ExpiryDate = "July"
			})

			It("should not schedule anything", func() {
				Expect(binding).To(BeNil())
			})
		})

		When("the device cannot deliver reminders", func() {
			BeforeEach(func() {
				probe = notify.StaticProbe(false)
			})

			It("should not schedule anything", func() {
				Expect(binding).To(BeNil())
				Expect(notifier.permissionAsks).To(BeZero())
			})
		})

		When("permission is denied", func() {
			BeforeEach(func() {
				notifier.permission = notify.Denied
			})

			It("should not schedule anything", func() {
				Expect(binding).To(BeNil())
				Expect(notifier.scheduled).To(BeEmpty())
			})
		})

		When("the permission request fails", func() {
			BeforeEach(func() {
				notifier.permissionErr = errors.New("dialog dismissed")
			})

			It("should not schedule anything", func() {
				Expect(binding).To(BeNil())
			})
		})

		When("the notifier fails", func() {
			BeforeEach(func() {
				notifier.scheduleErr = errors.New("service unavailable")
			})

			It("should return nil without a binding", func() {
				Expect(binding).To(BeNil())
				Expect(db.bindings).To(BeEmpty())
			})
		})

		When("the binding cannot be saved", func() {
			BeforeEach(func() {
				db.saveBindingErr = errors.New("io error")
			})

			It("should cancel the orphaned reminder", func() {
				Expect(binding).To(BeNil())
				Expect(notifier.canceled).To(HaveLen(1))
				Expect(notifier.scheduled).To(BeEmpty())
			})
		})

		When("the medicine already has a reminder", func() {
			BeforeEach(func() {
				db.bindings["med-1"] = "old-reminder"
			})

			It("should replace it", func() {
				Expect(notifier.canceled).To(Equal([]string{"old-reminder"}))
				Expect(db.bindings).To(Equal(map[string]string{"med-1": binding.ReminderID}))
			})
		})
	})

	Describe("Schedule", func() {
		It("uses the configured lead time", func() {
			medicine.ExpiryDate = "12/2024"
			binding := reconciler.Schedule(ctx, medicine)
			Expect(binding.TriggerAt).To(Equal(time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)))
		})

		It("binds a medicine to a single reminder under concurrent calls", func() {
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					reconciler.Schedule(ctx, medicine)
				}()
			}
			wg.Wait()

			Expect(notifier.scheduled).To(HaveLen(1))
			Expect(notifier.scheduled).To(HaveKey(db.bindings["med-1"]))
			Expect(notifier.canceled).To(HaveLen(7))
		})
	})

	Describe("Cancel", func() {
		When("a binding exists", func() {
			BeforeEach(func() {
				db.bindings["med-1"] = "rem-9"
			})

			It("should cancel the reminder and remove the binding", func() {
				reconciler.Cancel(ctx, "med-1")
				Expect(notifier.canceled).To(Equal([]string{"rem-9"}))
				Expect(db.bindings).To(BeEmpty())
			})

			It("should remove the binding even when cancel fails", func() {
				notifier.cancelErr = errors.New("service unavailable")
				reconciler.Cancel(ctx, "med-1")
				Expect(db.bindings).To(BeEmpty())
			})
		})

		When("no binding exists", func() {
			It("should do nothing", func() {
				reconciler.Cancel(ctx, "unknown")
				Expect(notifier.canceled).To(BeEmpty())
			})
		})
	})

	Describe("ReconcileAll", func() {
		var medicines []*Medicine

		BeforeEach(func() {
			medicines = []*Medicine{
				{ID: "future", Name: "Future", ExpiryDate: "12/2024"},
				{ID: "edge", Name: "Edge", ExpiryDate: "07/2024"},
				{ID: "past", Name: "Past", ExpiryDate: "06/2024"},
				{ID: "unknown", Name: "Unknown"},
			}
			db.bindings["deleted"] = "stale-reminder"
		})

		It("should bind exactly the schedulable medicines", func() {
			reconciler.ReconcileAll(ctx, medicines)
			Expect(db.bindings).To(HaveLen(2))
			Expect(db.bindings).To(HaveKey("future"))
			Expect(db.bindings).To(HaveKey("edge"))
		})

		It("should cancel bindings of medicines that no longer exist", func() {
			reconciler.ReconcileAll(ctx, medicines)
			Expect(notifier.canceled).To(ContainElement("stale-reminder"))
			Expect(db.bindings).NotTo(HaveKey("deleted"))
		})

		It("should be idempotent", func() {
			reconciler.ReconcileAll(ctx, medicines)
			first := make([]string, 0)
			for k := range db.bindings {
				first = append(first, k)
			}

			reconciler.ReconcileAll(ctx, medicines)
			Expect(db.bindings).To(HaveLen(len(first)))
			for _, k := range first {
				Expect(db.bindings).To(HaveKey(k))
			}
			Expect(notifier.scheduled).To(HaveLen(2))
		})

		It("should still resynchronize when the table cannot be listed", func() {
			db.listBindingsErr = errors.New("io error")
			reconciler.ReconcileAll(ctx, medicines)
			db.listBindingsErr = nil
			Expect(reconciler.Bindings()).To(HaveKey("future"))
		})
	})

	Describe("Bindings", func() {
		It("degrades to an empty table", func() {
			db.listBindingsErr = errors.New("io error")
			Expect(reconciler.Bindings()).To(BeEmpty())
		})
	})
})
