package domain

import "time"

// BusinessHours is the calling window of a campaign, evaluated in Timezone.
// Start and End are "HH:MM" or "HH:MM:SS" local times.
type BusinessHours struct {
	Timezone        string `db:"timezone" json:"timezone"`
	Start           string `db:"business_hours_start" json:"businessHoursStart"`
	End             string `db:"business_hours_end" json:"businessHoursEnd"`
	ExcludeWeekends bool   `db:"exclude_weekends" json:"excludeWeekends"`
}

// IsComplete reports whether every field needed for window arithmetic is present.
func (b BusinessHours) IsComplete() bool {
	return b.Timezone != "" && b.Start != "" && b.End != ""
}

type Campaign struct {
	ID              string  `db:"id" json:"id"`
	Name            string  `db:"name" json:"name"`
	MaxAttempts     int     `db:"max_attempts" json:"maxAttempts"`
	RetryDelayHours float64 `db:"retry_delay_hours" json:"retryDelayHours"`
	Paused          bool    `db:"paused" json:"paused"`
	AgentID         string  `db:"agent_id" json:"agentId"`
	BusinessHours
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type Contact struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	DoNotContact bool      `db:"do_not_contact" json:"doNotContact"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Target is a dialable phone number, optionally linked to a contact.
// ContactDoNotContact mirrors the linked contact's flag when loaded through the store.
type Target struct {
	ID                  string    `db:"id" json:"id"`
	ContactID           *string   `db:"contact_id" json:"contactId,omitempty"`
	PhoneNumber         string    `db:"phone_number" json:"phoneNumber"`
	DoNotContact        bool      `db:"do_not_contact" json:"doNotContact"`
	ContactDoNotContact bool      `db:"contact_do_not_contact" json:"contactDoNotContact"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
}

// Blocked reports whether either the target or its contact is flagged do-not-contact.
func (t Target) Blocked() bool {
	return t.DoNotContact || t.ContactDoNotContact
}
