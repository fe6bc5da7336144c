// Package sequence holds the pure attempt/status transition applied after every dispatch.
package sequence

import (
	"time"

	"github.com/onurcolak/sequence-dialer/internal/businesshours"
	"github.com/onurcolak/sequence-dialer/internal/domain"
)

// Transition is the new persisted state of an entry after one outcome.
type Transition struct {
	CurrentAttempt int
	Status         domain.EntryStatus
	NextCallTime   *time.Time
}

// Next computes the state following one dispatch outcome for an active entry.
// The attempt counter always advances by exactly one; success wins over the
// attempt limit, and a retry is scheduled in business hours from now.
func Next(entry domain.SequenceEntry, outcome domain.DispatchOutcome, campaign domain.Campaign, now time.Time) Transition {
	attempt := entry.CurrentAttempt + 1

	switch {
	case outcome.Successful:
		return Transition{CurrentAttempt: attempt, Status: domain.StatusCompleted}
	case attempt >= campaign.MaxAttempts:
		return Transition{CurrentAttempt: attempt, Status: domain.StatusMaxAttemptsReached}
	default:
		next := businesshours.AddBusinessHours(now, campaign.RetryDelayHours, campaign.BusinessHours)
		return Transition{CurrentAttempt: attempt, Status: domain.StatusActive, NextCallTime: &next}
	}
}

// Apply returns a copy of entry with t applied and its claim released.
func (t Transition) Apply(entry domain.SequenceEntry, now time.Time) domain.SequenceEntry {
	entry.CurrentAttempt = t.CurrentAttempt
	entry.Status = t.Status
	entry.NextCallTime = t.NextCallTime
	entry.ClaimedUntil = nil
	entry.UpdatedAt = now
	return entry
}

// Stop returns entry forced to the stopped terminal state.
func Stop(entry domain.SequenceEntry, now time.Time) domain.SequenceEntry {
	entry.Status = domain.StatusStopped
	entry.NextCallTime = nil
	entry.ClaimedUntil = nil
	entry.UpdatedAt = now
	return entry
}
