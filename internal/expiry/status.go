package expiry

import (
	"fmt"
	"time"
)

// Level is the coarse expiry classification of a record
type Level string

const (
	Unknown  Level = "unknown"
	Expired  Level = "expired"
	Critical Level = "critical"
	Warning  Level = "warning"
	Good     Level = "good"
)

// Status is a derived, never persisted, classification at evaluation time
type Status struct {
	Level       Level  `json:"level"`
	Description string `json:"description"`
	Days        int    `json:"days"`
}

// Classify computes the status of an MM/YYYY expiry relative to ref
func Classify(text string, ref time.Time) Status {
	days, ok := DaysUntilExpiry(text, ref)
	if !ok {
		return Status{Level: Unknown, Description: "No expiry date"}
	}

	if IsExpired(text, ref) {
		return Status{Level: Expired, Description: describeExpired(days), Days: days}
	}

	switch {
	case days <= CriticalDays:
		return Status{Level: Critical, Description: describeRemaining(days), Days: days}
	case days <= WarningDays:
		return Status{Level: Warning, Description: describeRemaining(days), Days: days}
	default:
		return Status{Level: Good, Description: describeRemaining(days), Days: days}
	}
}

func describeExpired(days int) string {
	switch {
	case days >= 0:
		return "Expires this month"
	case days == -1:
		return "Expired 1 day ago"
	default:
		return fmt.Sprintf("Expired %d days ago", -days)
	}
}

func describeRemaining(days int) string {
	if days == 1 {
		return "Expires in 1 day"
	}
	return fmt.Sprintf("Expires in %d days", days)
}
