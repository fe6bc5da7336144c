package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onurcolak/sequence-dialer/internal/businesshours"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/repository"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrCacheNotConfigured = errors.New("redis client not configured")
)

// Small internal interfaces so we can test without touching a real store or Redis.
type sequenceStore interface {
	Enroll(ctx context.Context, entry *domain.SequenceEntry) error
	GetEntry(ctx context.Context, id string) (*domain.SequenceEntry, error)
	ListEntries(ctx context.Context, status *domain.EntryStatus, page, pageSize int) ([]domain.SequenceEntry, int64, error)
	Stats(ctx context.Context) (domain.EntryStats, error)
	MarkStopped(ctx context.Context, id string, now time.Time) (*domain.SequenceEntry, error)
	MarkTerminalByPhone(ctx context.Context, phoneNumber string, status domain.EntryStatus, now time.Time) (int64, error)

	CreateCampaign(ctx context.Context, campaign *domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	CreateContact(ctx context.Context, contact *domain.Contact) error
	UpsertTarget(ctx context.Context, phoneNumber string, contactID *string) (*domain.Target, error)
	SetDoNotContact(ctx context.Context, phoneNumber string, doNotContact bool) error
}

type dispatchCacheReader interface {
	GetAllCachedDispatches(ctx context.Context) (map[string]*domain.DispatchRecord, error)
}

type EnrollRequest struct {
	CampaignID  string
	PhoneNumber string
	ContactID   *string
	// StartAt defaults to now; it is moved to the next window start when outside business hours.
	StartAt *time.Time
}

// CampaignView is a campaign with its calling window rendered for humans.
type CampaignView struct {
	domain.Campaign
	BusinessHoursSummary string `json:"businessHoursSummary"`
}

type SequenceService struct {
	store sequenceStore
	cache dispatchCacheReader
	now   func() time.Time
}

func NewSequenceService(store sequenceStore) *SequenceService {
	return &SequenceService{store: store, now: time.Now}
}

// WithCache enables GetCachedDispatches.
func (s *SequenceService) WithCache(cache dispatchCacheReader) *SequenceService {
	s.cache = cache
	return s
}

func (s *SequenceService) CreateCampaign(ctx context.Context, campaign *domain.Campaign) (*CampaignView, error) {
	if campaign.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: maxAttempts must be at least 1", ErrInvalidInput)
	}
	if campaign.RetryDelayHours < 0 {
		return nil, fmt.Errorf("%w: retryDelayHours must not be negative", ErrInvalidInput)
	}
	if campaign.BusinessHours != (domain.BusinessHours{}) {
		if err := businesshours.Validate(campaign.BusinessHours); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}

	if err := s.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	logger.Infof("Created campaign %s (%s)", campaign.ID, businesshours.Format(campaign.BusinessHours))

	return newCampaignView(*campaign), nil
}

func (s *SequenceService) GetCampaign(ctx context.Context, id string) (*CampaignView, error) {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	return newCampaignView(*campaign), nil
}

func newCampaignView(c domain.Campaign) *CampaignView {
	return &CampaignView{Campaign: c, BusinessHoursSummary: businesshours.Format(c.BusinessHours)}
}

func (s *SequenceService) CreateContact(ctx context.Context, contact *domain.Contact) error {
	return s.store.CreateContact(ctx, contact)
}

// EnrollTarget starts a call sequence for the phone number in the campaign.
// The first call is scheduled at StartAt, snapped into the campaign's window.
func (s *SequenceService) EnrollTarget(ctx context.Context, req EnrollRequest) (*domain.SequenceEntry, error) {
	campaign, err := s.store.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	target, err := s.store.UpsertTarget(ctx, req.PhoneNumber, req.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert target: %w", err)
	}

	start := s.now().UTC()
	if req.StartAt != nil {
		start = req.StartAt.UTC()
	}
	if !businesshours.IsWithinWindow(start, campaign.BusinessHours) {
		start = businesshours.NextWindowStart(start, campaign.BusinessHours)
	}

	entry := &domain.SequenceEntry{
		CampaignID:   campaign.ID,
		TargetID:     target.ID,
		Status:       domain.StatusActive,
		NextCallTime: &start,
	}

	if err := s.store.Enroll(ctx, entry); err != nil {
		return nil, err
	}

	logger.Infof("Enrolled %s in campaign %s, first call at %s", req.PhoneNumber, campaign.ID, start.Format(time.RFC3339))

	return entry, nil
}

func (s *SequenceService) GetEntry(ctx context.Context, id string) (*domain.SequenceEntry, error) {
	return s.store.GetEntry(ctx, id)
}

func (s *SequenceService) ListEntries(
	ctx context.Context,
	status *domain.EntryStatus,
	page,
	pageSize int,
) ([]domain.SequenceEntry, int64, error) {
	return s.store.ListEntries(ctx, status, page, pageSize)
}

func (s *SequenceService) GetStats(ctx context.Context) (domain.EntryStats, error) {
	return s.store.Stats(ctx)
}

// StopEntry forces the entry to stopped. Stopping a stopped entry is a no-op.
func (s *SequenceService) StopEntry(ctx context.Context, id string) (*domain.SequenceEntry, error) {
	entry, err := s.store.MarkStopped(ctx, id, s.now())
	if err != nil {
		return nil, err
	}

	logger.Infof("Stopped entry %s", id)

	return entry, nil
}

// MarkTerminalByPhone is the out-of-band cleanup path: a call that actually
// connected (completed) or an opt-out (stopped) ends every sequence of the number.
// An opt-out also flags the target do-not-contact.
func (s *SequenceService) MarkTerminalByPhone(ctx context.Context, phoneNumber string, status domain.EntryStatus) (int64, error) {
	if !repository.ValidTerminalOverwrite(status) {
		return 0, fmt.Errorf("%w: %q", repository.ErrInvalidStatus, status)
	}

	n, err := s.store.MarkTerminalByPhone(ctx, phoneNumber, status, s.now())
	if err != nil {
		return 0, err
	}

	if status == domain.StatusStopped {
		if err := s.store.SetDoNotContact(ctx, phoneNumber, true); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return n, fmt.Errorf("failed to flag %s do-not-contact: %w", phoneNumber, err)
		}
	}

	logger.Infof("Marked %d entries of %s as %s", n, phoneNumber, status)

	return n, nil
}

func (s *SequenceService) SetDoNotContact(ctx context.Context, phoneNumber string, doNotContact bool) error {
	return s.store.SetDoNotContact(ctx, phoneNumber, doNotContact)
}

func (s *SequenceService) GetCachedDispatches(ctx context.Context) (map[string]*domain.DispatchRecord, error) {
	if s.cache == nil {
		return nil, ErrCacheNotConfigured
	}
	return s.cache.GetAllCachedDispatches(ctx)
}
