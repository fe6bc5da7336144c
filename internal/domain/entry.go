package domain

import "time"

type EntryStatus string

const (
	StatusActive             EntryStatus = "active"
	StatusCompleted          EntryStatus = "completed"
	StatusStopped            EntryStatus = "stopped"
	StatusMaxAttemptsReached EntryStatus = "max_attempts_reached"
)

// IsTerminal reports whether no further dispatch may happen for an entry in this status.
func (s EntryStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusMaxAttemptsReached:
		return true
	default:
		return false
	}
}

func (s EntryStatus) IsValid() bool {
	return s == StatusActive || s.IsTerminal()
}

// SequenceEntry is one target enrolled in one campaign's call sequence.
type SequenceEntry struct {
	ID             string      `db:"id" json:"id"`
	CampaignID     string      `db:"campaign_id" json:"campaignId"`
	TargetID       string      `db:"target_id" json:"targetId"`
	CurrentAttempt int         `db:"current_attempt" json:"currentAttempt"`
	Status         EntryStatus `db:"status" json:"status"`
	NextCallTime   *time.Time  `db:"next_call_time" json:"nextCallTime,omitempty"`
	ClaimedUntil   *time.Time  `db:"claimed_until" json:"claimedUntil,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updatedAt"`
}

// IsReady reports whether the entry is due for dispatch at now and not held by an unexpired claim.
func (e SequenceEntry) IsReady(now time.Time) bool {
	if e.Status != StatusActive || e.NextCallTime == nil || e.NextCallTime.After(now) {
		return false
	}
	return e.ClaimedUntil == nil || !e.ClaimedUntil.After(now)
}

type EntryStats struct {
	Active             int64 `json:"active"`
	Completed          int64 `json:"completed"`
	Stopped            int64 `json:"stopped"`
	MaxAttemptsReached int64 `json:"maxAttemptsReached"`
}

func (s EntryStats) Total() int64 {
	return s.Active + s.Completed + s.Stopped + s.MaxAttemptsReached
}
