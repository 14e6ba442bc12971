package notify

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned when scheduling without a granted permission
var ErrPermissionDenied = errors.New("notification permission denied")

// Permission is the outcome of a permission request
type Permission int

const (
	Denied Permission = iota
	Granted
)

func (p Permission) String() string {
	if p == Granted {
		return "granted"
	}
	return "denied"
}

// Payload is the content of a reminder
type Payload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	MedicineID string `json:"medicine_id"`
}

// Notifier schedules time-triggered local reminders
type Notifier interface {
	// RequestPermission asks for permission to deliver reminders. Repeated
	// requests after a grant are cheap.
	RequestPermission(ctx context.Context) (Permission, error)

	// Schedule registers a reminder and returns its id
	Schedule(ctx context.Context, trigger time.Time, payload Payload) (string, error)

	// Cancel removes a pending reminder. Unknown ids are not an error.
	Cancel(ctx context.Context, reminderID string) error
}

// DeviceProbe reports whether the host can deliver reminders at all
type DeviceProbe interface {
	IsPhysicalDevice() bool
}

// StaticProbe is a DeviceProbe with a fixed answer, usually from configuration
type StaticProbe bool

// IsPhysicalDevice returns the configured answer
func (p StaticProbe) IsPhysicalDevice() bool {
	return bool(p)
}

// Policy controls how a delivered reminder is presented
type Policy struct {
	ShowAlert bool `json:"show_alert"`
	PlaySound bool `json:"play_sound"`
	SetBadge  bool `json:"set_badge"`
}

// DefaultPolicy shows an alert with sound and leaves the badge alone
func DefaultPolicy() Policy {
	return Policy{ShowAlert: true, PlaySound: true}
}
