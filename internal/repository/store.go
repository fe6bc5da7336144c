package repository

import (
	"context"
	"errors"
	"time"

	"github.com/onurcolak/sequence-dialer/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateEntry      = errors.New("duplicate entry")
	ErrTransitionConflict  = errors.New("entry changed concurrently")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrDBOperationFailed   = errors.New("db operation failed")
	ErrSerializationFailed = errors.New("serialization failed")
)

// EntryStore persists sequence entries. Claim and ApplyOutcome are the only
// writers of current_attempt, status, next_call_time and claimed_until apart
// from the terminal overwrites MarkStopped and MarkTerminalByPhone.
type EntryStore interface {
	// FindReady returns active, due, unclaimed (or lease-expired) entries ordered by
	// next_call_time ascending. Entries of paused campaigns and of do-not-contact
	// targets are left out.
	FindReady(ctx context.Context, now time.Time, limit int) ([]domain.SequenceEntry, error)

	// Claim sets claimed_until = now+lease only if the entry is still ready at now.
	// It reports whether this caller won the claim.
	Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)

	// ApplyOutcome advances the entry by one attempt and releases its claim.
	// It returns ErrTransitionConflict when the entry is no longer active or
	// was advanced by someone else.
	ApplyOutcome(
		ctx context.Context,
		id string,
		outcome domain.DispatchOutcome,
		campaign domain.Campaign,
		now time.Time,
	) (*domain.SequenceEntry, error)

	// Reschedule moves the next call of an active, unclaimed entry to next.
	// It reports false when the entry is no longer active or is held by a live claim.
	Reschedule(ctx context.Context, id string, next, now time.Time) (bool, error)

	// MarkStopped forces the entry to stopped whatever its state.
	MarkStopped(ctx context.Context, id string, now time.Time) (*domain.SequenceEntry, error)

	// MarkTerminalByPhone forces every entry of the targets with this phone number to
	// status, which must be completed or stopped.
	MarkTerminalByPhone(ctx context.Context, phoneNumber string, status domain.EntryStatus, now time.Time) (int64, error)

	Enroll(ctx context.Context, entry *domain.SequenceEntry) error
	GetEntry(ctx context.Context, id string) (*domain.SequenceEntry, error)
	ListEntries(ctx context.Context, status *domain.EntryStatus, page, pageSize int) ([]domain.SequenceEntry, int64, error)
	Stats(ctx context.Context) (domain.EntryStats, error)
}

type CampaignStore interface {
	CreateCampaign(ctx context.Context, campaign *domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	CreateContact(ctx context.Context, contact *domain.Contact) error
	// UpsertTarget returns the target with this phone number, creating it when missing.
	UpsertTarget(ctx context.Context, phoneNumber string, contactID *string) (*domain.Target, error)
	GetTarget(ctx context.Context, id string) (*domain.Target, error)
	SetDoNotContact(ctx context.Context, phoneNumber string, doNotContact bool) error
}

type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, analysis *domain.CallAnalysis) error
}

// Store is the full persistence surface; implemented by sqlstore and boltstore.
type Store interface {
	EntryStore
	CampaignStore
	AnalysisStore
	Ping(ctx context.Context) error
	Close() error
}

// ValidTerminalOverwrite reports whether status may be forced from outside the state machine.
func ValidTerminalOverwrite(status domain.EntryStatus) bool {
	return status == domain.StatusCompleted || status == domain.StatusStopped
}
