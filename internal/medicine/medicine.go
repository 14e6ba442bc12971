package medicine

import (
	"strings"
	"time"
)

// Medicine is one tracked item of the inventory
type Medicine struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Company    string    `json:"company,omitempty"`
	ExpiryDate string    `json:"expiry_date,omitempty"` // MM/YYYY, empty when unknown
	Notes      string    `json:"notes,omitempty"`
	ImageURI   string    `json:"image_uri,omitempty"` // Reference into Storage
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Patch holds the fields of a partial update. Nil fields are left unchanged.
type Patch struct {
	Name       *string `json:"name,omitempty"`
	Company    *string `json:"company,omitempty"`
	ExpiryDate *string `json:"expiry_date,omitempty"`
	Notes      *string `json:"notes,omitempty"`
	ImageURI   *string `json:"image_uri,omitempty"`
}

func (p Patch) apply(m *Medicine) {
	if p.Name != nil {
		m.Name = strings.TrimSpace(*p.Name)
	}
	if p.Company != nil {
		m.Company = *p.Company
	}
	if p.ExpiryDate != nil {
		m.ExpiryDate = strings.TrimSpace(*p.ExpiryDate)
	}
	if p.Notes != nil {
		m.Notes = *p.Notes
	}
	if p.ImageURI != nil {
		m.ImageURI = *p.ImageURI
	}
}

// MedicineWithDays is a query result annotated with the days left
type MedicineWithDays struct {
	*Medicine
	DaysUntilExpiry int `json:"days_until_expiry"`
}

// Draft is the result of scanning a label, ready to be reviewed and added
type Draft struct {
	Name       string `json:"name"`
	Company    string `json:"company"`
	ExpiryDate string `json:"expiry_date"`
	ImageURI   string `json:"image_uri"`
}

// Binding links a medicine to its scheduled reminder
type Binding struct {
	MedicineID string    `json:"medicine_id"`
	ReminderID string    `json:"reminder_id"`
	TriggerAt  time.Time `json:"trigger_at"`
}
