package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onurcolak/sequence-dialer/internal/businesshours"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/repository"
	"github.com/onurcolak/sequence-dialer/internal/sequence"
)

// fakeStore keeps entries in memory and applies the real transition.
type fakeStore struct {
	mu        sync.Mutex
	entries   []*domain.SequenceEntry
	campaigns map[string]*domain.Campaign
	targets   map[string]*domain.Target

	findErr  error
	applyErr map[string]error

	campaignLookups int
	applied         map[string]domain.DispatchOutcome
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns: map[string]*domain.Campaign{},
		targets:   map[string]*domain.Target{},
		applyErr:  map[string]error{},
		applied:   map[string]domain.DispatchOutcome{},
	}
}

func (f *fakeStore) addEntry(id, campaignID string, attempt int, target *domain.Target, due time.Time) {
	f.targets[target.ID] = target
	f.entries = append(f.entries, &domain.SequenceEntry{
		ID:             id,
		CampaignID:     campaignID,
		TargetID:       target.ID,
		CurrentAttempt: attempt,
		Status:         domain.StatusActive,
		NextCallTime:   &due,
	})
}

func (f *fakeStore) FindReady(_ context.Context, now time.Time, limit int) ([]domain.SequenceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findErr != nil {
		return nil, f.findErr
	}

	var ready []domain.SequenceEntry
	for _, e := range f.entries {
		if e.IsReady(now) && len(ready) < limit {
			ready = append(ready, *e)
		}
	}
	return ready, nil
}

func (f *fakeStore) ApplyOutcome(
	_ context.Context,
	id string,
	outcome domain.DispatchOutcome,
	campaign domain.Campaign,
	now time.Time,
) (*domain.SequenceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.applyErr[id]; err != nil {
		return nil, err
	}

	for _, e := range f.entries {
		if e.ID == id {
			f.applied[id] = outcome
			*e = sequence.Next(*e, outcome, campaign, now).Apply(*e, now)
			updated := *e
			return &updated, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) Reschedule(_ context.Context, id string, next, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.entries {
		if e.ID != id {
			continue
		}
		if e.Status != domain.StatusActive || (e.ClaimedUntil != nil && e.ClaimedUntil.After(now)) {
			return false, nil
		}
		e.NextCallTime = &next
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.campaignLookups++
	c, ok := f.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, repository.ErrNotFound)
	}
	return c, nil
}

func (f *fakeStore) GetTarget(_ context.Context, id string) (*domain.Target, error) {
	t, ok := f.targets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) entry(id string) domain.SequenceEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			return *e
		}
	}
	return domain.SequenceEntry{}
}

type fakeClaimer struct {
	lose  map[string]bool
	err   error
	calls []string
}

func (f *fakeClaimer) Claim(_ context.Context, entryID string) (bool, error) {
	f.calls = append(f.calls, entryID)
	if f.err != nil {
		return false, f.err
	}
	return !f.lose[entryID], nil
}

type fakeDialer struct {
	responses map[string]*domain.DialResponse
	errs      map[string]error
	requests  []domain.DispatchRequest
}

func (f *fakeDialer) Dispatch(_ context.Context, req domain.DispatchRequest) (*domain.DialResponse, error) {
	f.requests = append(f.requests, req)
	if err := f.errs[req.EntryID]; err != nil {
		return nil, err
	}
	if resp, ok := f.responses[req.EntryID]; ok {
		return resp, nil
	}
	return &domain.DialResponse{Success: true, CallID: "call-" + req.EntryID}, nil
}

type fakeCache struct {
	mu      sync.Mutex
	records []domain.DispatchRecord
}

func (f *fakeCache) CacheDispatch(_ context.Context, record domain.DispatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

var (
	friday1600 = time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)

	weekdayHours = domain.BusinessHours{
		Timezone:        "UTC",
		Start:           "09:00:00",
		End:             "17:00:00",
		ExcludeWeekends: true,
	}
)

func newCampaign(id string) *domain.Campaign {
	return &domain.Campaign{
		ID:              id,
		MaxAttempts:     3,
		RetryDelayHours: 24,
		AgentID:         "agent-7",
		BusinessHours:   weekdayHours,
	}
}

func newTarget(id string) *domain.Target {
	return &domain.Target{ID: id, PhoneNumber: "+1555" + id}
}

func fixedCaller(store *fakeStore, claims *fakeClaimer, dialer *fakeDialer, now time.Time) *Caller {
	c := NewCaller(store, claims, dialer, 10)
	c.now = func() time.Time { return now }
	return c
}

func TestCaller_Tick_DispatchesAndAppliesOutcomes(t *testing.T) {
	store := newFakeStore()
	store.campaigns["camp-1"] = newCampaign("camp-1")
	due := friday1600.Add(-time.Hour)
	store.addEntry("e1", "camp-1", 0, newTarget("t1"), due)
	store.addEntry("e2", "camp-1", 0, newTarget("t2"), due)
	store.addEntry("e3", "camp-1", 0, newTarget("t3"), due)

	dialer := &fakeDialer{
		errs:      map[string]error{"e2": errors.New("dialer unreachable")},
		responses: map[string]*domain.DialResponse{"e3": {Success: false, Message: "busy"}},
	}
	cache := &fakeCache{}
	caller := fixedCaller(store, &fakeClaimer{}, dialer, friday1600).WithCache(cache)

	stats, err := caller.Tick(context.Background(), 1)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	want := TickStats{Processed: 3, Dispatched: 3, Failed: 2}
	if stats != want {
		t.Errorf("expected stats %+v, got %+v", want, stats)
	}

	if got := store.entry("e1").Status; got != domain.StatusCompleted {
		t.Errorf("expected e1 completed, got %s", got)
	}

	wantNext := businesshours.AddBusinessHours(friday1600, 24, weekdayHours)
	for _, id := range []string{"e2", "e3"} {
		e := store.entry(id)
		if e.Status != domain.StatusActive || e.CurrentAttempt != 1 {
			t.Errorf("expected %s active at attempt 1, got %s at %d", id, e.Status, e.CurrentAttempt)
		}
		if e.NextCallTime == nil || !e.NextCallTime.Equal(wantNext) {
			t.Errorf("expected %s next call at %v, got %v", id, wantNext, e.NextCallTime)
		}
	}

	if len(cache.records) != 1 || cache.records[0].EntryID != "e1" || cache.records[0].CallID != "call-e1" {
		t.Errorf("expected only e1 to be cached, got %+v", cache.records)
	}
	if store.campaignLookups != 1 {
		t.Errorf("expected the campaign to be loaded once per tick, got %d lookups", store.campaignLookups)
	}
}

func TestCaller_Tick_DispatchRequestCarriesTrackingID(t *testing.T) {
	store := newFakeStore()
	store.campaigns["camp-1"] = newCampaign("camp-1")
	store.addEntry("e1", "camp-1", 1, newTarget("t1"), friday1600)

	dialer := &fakeDialer{}
	caller := fixedCaller(store, &fakeClaimer{}, dialer, friday1600)

	if _, err := caller.Tick(context.Background(), 1); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if len(dialer.requests) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(dialer.requests))
	}
	req := dialer.requests[0]
	if req.TrackingID == "" {
		t.Error("expected a tracking ID")
	}
	if req.Attempt != 2 || req.PhoneNumber != "+1555t1" || req.AgentID != "agent-7" {
		t.Errorf("unexpected dispatch request %+v", req)
	}
}

func TestCaller_Tick_LastAttemptReachesMaxAttempts(t *testing.T) {
	store := newFakeStore()
	store.campaigns["camp-1"] = newCampaign("camp-1")
	store.addEntry("e1", "camp-1", 2, newTarget("t1"), friday1600)

	dialer := &fakeDialer{responses: map[string]*domain.DialResponse{"e1": {Success: false}}}
	caller := fixedCaller(store, &fakeClaimer{}, dialer, friday1600)

	if _, err := caller.Tick(context.Background(), 1); err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	e := store.entry("e1")
	if e.Status != domain.StatusMaxAttemptsReached {
		t.Errorf("expected max_attempts_reached, got %s", e.Status)
	}
	if e.NextCallTime != nil {
		t.Errorf("expected no next call time, got %v", e.NextCallTime)
	}
	if e.CurrentAttempt != 3 {
		t.Errorf("expected attempt 3, got %d", e.CurrentAttempt)
	}
}

func TestCaller_Tick_SkipsIneligibleEntries(t *testing.T) {
	store := newFakeStore()
	store.campaigns["camp-1"] = newCampaign("camp-1")
	paused := newCampaign("camp-paused")
	paused.Paused = true
	store.campaigns["camp-paused"] = paused

	due := friday1600.Add(-time.Minute)

	dnc := newTarget("t-dnc")
	dnc.DoNotContact = true
	contactDNC := newTarget("t-contact-dnc")
	contactDNC.ContactDoNotContact = true

	store.addEntry("e-dnc", "camp-1", 0, dnc, due)
	store.addEntry("e-contact-dnc", "camp-1", 0, contactDNC, due)
	store.addEntry("e-paused", "camp-paused", 0, newTarget("t-paused"), due)
	store.addEntry("e-exhausted", "camp-1", 3, newTarget("t-exhausted"), due)
	store.addEntry("e-contended", "camp-1", 0, newTarget("t-contended"), due)

	claims := &fakeClaimer{lose: map[string]bool{"e-contended": true}}
	dialer := &fakeDialer{}
	caller := fixedCaller(store, claims, dialer, friday1600)

	stats, err := caller.Tick(context.Background(), 1)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if stats.Processed != 5 || stats.Skipped != 5 || stats.Dispatched != 0 {
		t.Errorf("expected 5 processed and skipped, got %+v", stats)
	}
	if len(claims.calls) != 1 || claims.calls[0] != "e-contended" {
		t.Errorf("expected only the eligible entry to be claimed, got %v", claims.calls)
	}
	if len(dialer.requests) != 0 {
		t.Errorf("expected no dispatches, got %d", len(dialer.requests))
	}
	if len(store.applied) != 0 {
		t.Errorf("expected no transitions, got %v", store.applied)
	}
}

func TestCaller_Tick_IsolatesPerEntryErrors(t *testing.T) {
	store := newFakeStore()
	store.campaigns["camp-1"] = newCampaign("camp-1")
	due := friday1600.Add(-time.Minute)
	store.addEntry("e-apply-fails", "camp-1", 0, newTarget("t1"), due)
	store.addEntry("e-no-campaign", "camp-missing", 0, newTarget("t2"), due)
	store.addEntry("e-conflict", "camp-1", 0, newTarget("t3"), due)
	store.addEntry("e-ok", "camp-1", 0, newTarget("t4"), due)
	store.applyErr["e-apply-fails"] = repository.ErrDBOperationFailed
	store.applyErr["e-conflict"] = repository.ErrTransitionConflict

	dialer := &fakeDialer{}
	caller := fixedCaller(store, &fakeClaimer{}, dialer, friday1600)

	stats, err := caller.Tick(context.Background(), 1)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	if stats.Errors != 2 {
		t.Errorf("expected 2 errors, got %+v", stats)
	}
	if stats.Dispatched != 3 {
		t.Errorf("expected 3 dispatches, got %+v", stats)
	}
	if got := store.entry("e-ok").Status; got != domain.StatusCompleted {
		t.Errorf("expected the healthy entry to complete, got %s", got)
	}
}

func TestCaller_Tick_ClaimErrorCountsAsError(t *testing.T) {
	store := newFakeStore()
	store.campaigns["camp-1"] = newCampaign("camp-1")
	store.addEntry("e1", "camp-1", 0, newTarget("t1"), friday1600)

	dialer := &fakeDialer{}
	caller := fixedCaller(store, &fakeClaimer{err: errors.New("lock wait timeout")}, dialer, friday1600)

	stats, err := caller.Tick(context.Background(), 1)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if stats.Errors != 1 || len(dialer.requests) != 0 {
		t.Errorf("expected a claim error and no dispatch, got %+v and %d requests", stats, len(dialer.requests))
	}
}

func TestCaller_Tick_FindReadyErrorFailsTick(t *testing.T) {
	store := newFakeStore()
	store.findErr = repository.ErrDBOperationFailed

	caller := fixedCaller(store, &fakeClaimer{}, &fakeDialer{}, friday1600)

	if _, err := caller.Tick(context.Background(), 1); !errors.Is(err, repository.ErrDBOperationFailed) {
		t.Fatalf("expected ErrDBOperationFailed, got %v", err)
	}
}

func TestCaller_Tick_StopsOnCancelledContext(t *testing.T) {
	store := newFakeStore()
	store.campaigns["camp-1"] = newCampaign("camp-1")
	store.addEntry("e1", "camp-1", 0, newTarget("t1"), friday1600)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dialer := &fakeDialer{}
	stats, err := fixedCaller(store, &fakeClaimer{}, dialer, friday1600).Tick(ctx, 1)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if stats.Processed != 0 || len(dialer.requests) != 0 {
		t.Errorf("expected nothing processed after cancellation, got %+v", stats)
	}
}

func TestCaller_Tick_DefersEntriesOutsideBusinessHours(t *testing.T) {
	store := newFakeStore()
	store.campaigns["camp-1"] = newCampaign("camp-1")
	// Came due a minute before Friday's window closed, the tick runs early Saturday.
	store.addEntry("e1", "camp-1", 0, newTarget("t1"), time.Date(2024, 3, 1, 16, 59, 0, 0, time.UTC))
	saturday0300 := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC)

	claims := &fakeClaimer{}
	dialer := &fakeDialer{}
	stats, err := fixedCaller(store, claims, dialer, saturday0300).Tick(context.Background(), 1)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}

	want := TickStats{Processed: 1, Skipped: 1}
	if stats != want {
		t.Errorf("expected stats %+v, got %+v", want, stats)
	}
	if len(dialer.requests) != 0 || len(claims.calls) != 0 {
		t.Fatalf("expected no claim and no dial outside business hours, got %d claims and %d dials",
			len(claims.calls), len(dialer.requests))
	}

	e := store.entry("e1")
	mondayOpen := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	if e.NextCallTime == nil || !e.NextCallTime.Equal(mondayOpen) {
		t.Errorf("expected next call moved to %v, got %v", mondayOpen, e.NextCallTime)
	}
	if e.CurrentAttempt != 0 || e.Status != domain.StatusActive {
		t.Errorf("expected the attempt budget untouched, got %s at %d", e.Status, e.CurrentAttempt)
	}
}
