// Package boltstore implements repository.Store on an embedded bbolt file for
// single-node deployments. bbolt serializes write transactions, so every
// check-and-write below runs inside one Update and is atomic.
package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/repository"
	"github.com/onurcolak/sequence-dialer/internal/sequence"
)

var (
	entriesBucket     = []byte("sequence_entries")
	enrollmentsBucket = []byte("enrollments")
	campaignsBucket   = []byte("campaigns")
	contactsBucket    = []byte("contacts")
	targetsBucket     = []byte("targets")
	phonesBucket      = []byte("targets_by_phone")
	analysesBucket    = []byte("call_analyses")

	allBuckets = [][]byte{
		entriesBucket, enrollmentsBucket, campaignsBucket, contactsBucket,
		targetsBucket, phonesBucket, analysesBucket,
	}
)

// Store persists the dialer state in a bbolt database file.
type Store struct {
	db *bbolt.DB
}

var _ repository.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open db: %w", repository.ErrDBOperationFailed, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("%w: failed to create bucket '%s': %w", repository.ErrDBOperationFailed, name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(entriesBucket) == nil {
			return fmt.Errorf("%w: bucket '%s' missing", repository.ErrDBOperationFailed, entriesBucket)
		}
		return nil
	})
}

func get[T any](b *bbolt.Bucket, key string, kind string) (*T, error) {
	v := b.Get([]byte(key))
	if v == nil {
		return nil, fmt.Errorf("%w: %s %s", repository.ErrNotFound, kind, key)
	}

	var out T
	if err := json.Unmarshal(v, &out); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal %s: %w", repository.ErrSerializationFailed, kind, err)
	}
	return &out, nil
}

func put(b *bbolt.Bucket, key string, kind string, value any) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal %s: %w", repository.ErrSerializationFailed, kind, err)
	}
	if err := b.Put([]byte(key), buf); err != nil {
		return fmt.Errorf("%w: failed to put %s: %w", repository.ErrDBOperationFailed, kind, err)
	}
	return nil
}

func loadTarget(tx *bbolt.Tx, id string) (*domain.Target, error) {
	target, err := get[domain.Target](tx.Bucket(targetsBucket), id, "target")
	if err != nil {
		return nil, err
	}

	target.ContactDoNotContact = false
	if target.ContactID != nil {
		contact, err := get[domain.Contact](tx.Bucket(contactsBucket), *target.ContactID, "contact")
		if err == nil {
			target.ContactDoNotContact = contact.DoNotContact
		}
	}

	return target, nil
}

func (s *Store) FindReady(_ context.Context, now time.Time, limit int) ([]domain.SequenceEntry, error) {
	ready := []domain.SequenceEntry{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		campaigns := map[string]bool{}
		blocked := map[string]bool{}

		return tx.Bucket(entriesBucket).ForEach(func(_, v []byte) error {
			var entry domain.SequenceEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: failed to unmarshal entry: %w", repository.ErrSerializationFailed, err)
			}
			if !entry.IsReady(now) {
				return nil
			}

			paused, ok := campaigns[entry.CampaignID]
			if !ok {
				campaign, err := get[domain.Campaign](tx.Bucket(campaignsBucket), entry.CampaignID, "campaign")
				paused = err != nil || campaign.Paused
				campaigns[entry.CampaignID] = paused
			}
			if paused {
				return nil
			}

			isBlocked, ok := blocked[entry.TargetID]
			if !ok {
				target, err := loadTarget(tx, entry.TargetID)
				isBlocked = err != nil || target.Blocked()
				blocked[entry.TargetID] = isBlocked
			}
			if isBlocked {
				return nil
			}

			ready = append(ready, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(ready, func(a, b domain.SequenceEntry) int {
		return a.NextCallTime.Compare(*b.NextCallTime)
	})

	if limit >= 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	return ready, nil
}

func (s *Store) Claim(_ context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	claimed := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		entry, err := get[domain.SequenceEntry](b, id, "entry")
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if !entry.IsReady(now) {
			return nil
		}

		until := now.UTC().Add(lease)
		entry.ClaimedUntil = &until
		entry.UpdatedAt = now.UTC()
		if err := put(b, id, "entry", entry); err != nil {
			return err
		}

		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return claimed, nil
}

func (s *Store) ApplyOutcome(
	_ context.Context,
	id string,
	outcome domain.DispatchOutcome,
	campaign domain.Campaign,
	now time.Time,
) (*domain.SequenceEntry, error) {
	var updated domain.SequenceEntry

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		entry, err := get[domain.SequenceEntry](b, id, "entry")
		if err != nil {
			return err
		}

		if entry.Status != domain.StatusActive {
			return fmt.Errorf("%w: entry %s is %s", repository.ErrTransitionConflict, id, entry.Status)
		}

		now = now.UTC()
		updated = sequence.Next(*entry, outcome, campaign, now).Apply(*entry, now)
		return put(b, id, "entry", updated)
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

func (s *Store) Reschedule(_ context.Context, id string, next, now time.Time) (bool, error) {
	moved := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		entry, err := get[domain.SequenceEntry](b, id, "entry")
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if entry.Status != domain.StatusActive || (entry.ClaimedUntil != nil && entry.ClaimedUntil.After(now)) {
			return nil
		}

		next = next.UTC()
		entry.NextCallTime = &next
		entry.UpdatedAt = now.UTC()
		if err := put(b, id, "entry", entry); err != nil {
			return err
		}

		moved = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return moved, nil
}

func (s *Store) MarkStopped(_ context.Context, id string, now time.Time) (*domain.SequenceEntry, error) {
	var stopped domain.SequenceEntry

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		entry, err := get[domain.SequenceEntry](b, id, "entry")
		if err != nil {
			return err
		}

		stopped = sequence.Stop(*entry, now.UTC())
		return put(b, id, "entry", stopped)
	})
	if err != nil {
		return nil, err
	}

	return &stopped, nil
}

func (s *Store) MarkTerminalByPhone(
	_ context.Context,
	phoneNumber string,
	status domain.EntryStatus,
	now time.Time,
) (int64, error) {
	if !repository.ValidTerminalOverwrite(status) {
		return 0, fmt.Errorf("%w: %q cannot be set by phone number", repository.ErrInvalidStatus, status)
	}

	var count int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(phonesBucket).Get([]byte(phoneNumber))
		if raw == nil {
			return nil
		}
		targetID := string(raw)

		b := tx.Bucket(entriesBucket)
		var matches []domain.SequenceEntry
		err := b.ForEach(func(_, v []byte) error {
			var entry domain.SequenceEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: failed to unmarshal entry: %w", repository.ErrSerializationFailed, err)
			}
			if entry.TargetID == targetID {
				matches = append(matches, entry)
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Writes happen after ForEach; bbolt forbids mutating a bucket while iterating it.
		for _, entry := range matches {
			entry.Status = status
			entry.NextCallTime = nil
			entry.ClaimedUntil = nil
			entry.UpdatedAt = now.UTC()
			if err := put(b, entry.ID, "entry", entry); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func enrollmentKey(campaignID, targetID string) []byte {
	return []byte(campaignID + "/" + targetID)
}

func (s *Store) Enroll(_ context.Context, entry *domain.SequenceEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now

	return s.db.Update(func(tx *bbolt.Tx) error {
		enrollments := tx.Bucket(enrollmentsBucket)
		key := enrollmentKey(entry.CampaignID, entry.TargetID)
		if enrollments.Get(key) != nil {
			return fmt.Errorf("%w: target %s is already enrolled in campaign %s",
				repository.ErrDuplicateEntry, entry.TargetID, entry.CampaignID)
		}

		if _, err := get[domain.Campaign](tx.Bucket(campaignsBucket), entry.CampaignID, "campaign"); err != nil {
			return err
		}
		if _, err := get[domain.Target](tx.Bucket(targetsBucket), entry.TargetID, "target"); err != nil {
			return err
		}

		if err := enrollments.Put(key, []byte(entry.ID)); err != nil {
			return fmt.Errorf("%w: failed to put enrollment: %w", repository.ErrDBOperationFailed, err)
		}
		return put(tx.Bucket(entriesBucket), entry.ID, "entry", entry)
	})
}

func (s *Store) GetEntry(_ context.Context, id string) (*domain.SequenceEntry, error) {
	var entry *domain.SequenceEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		entry, err = get[domain.SequenceEntry](tx.Bucket(entriesBucket), id, "entry")
		return err
	})
	return entry, err
}

func (s *Store) ListEntries(
	_ context.Context,
	status *domain.EntryStatus,
	page,
	pageSize int,
) ([]domain.SequenceEntry, int64, error) {
	all := []domain.SequenceEntry{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(_, v []byte) error {
			var entry domain.SequenceEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: failed to unmarshal entry: %w", repository.ErrSerializationFailed, err)
			}
			if status == nil || entry.Status == *status {
				all = append(all, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	slices.SortStableFunc(all, func(a, b domain.SequenceEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []domain.SequenceEntry{}, total, nil
	}
	end := min(start+pageSize, len(all))

	return all[start:end], total, nil
}

func (s *Store) Stats(_ context.Context) (domain.EntryStats, error) {
	var stats domain.EntryStats

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(_, v []byte) error {
			var entry domain.SequenceEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: failed to unmarshal entry: %w", repository.ErrSerializationFailed, err)
			}
			switch entry.Status {
			case domain.StatusActive:
				stats.Active++
			case domain.StatusCompleted:
				stats.Completed++
			case domain.StatusStopped:
				stats.Stopped++
			case domain.StatusMaxAttemptsReached:
				stats.MaxAttemptsReached++
			}
			return nil
		})
	})

	return stats, err
}

func (s *Store) CreateCampaign(_ context.Context, campaign *domain.Campaign) error {
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	campaign.CreatedAt, campaign.UpdatedAt = now, now

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(campaignsBucket)
		if b.Get([]byte(campaign.ID)) != nil {
			return fmt.Errorf("%w: campaign %s", repository.ErrDuplicateEntry, campaign.ID)
		}
		return put(b, campaign.ID, "campaign", campaign)
	})
}

func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	var campaign *domain.Campaign
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		campaign, err = get[domain.Campaign](tx.Bucket(campaignsBucket), id, "campaign")
		return err
	})
	return campaign, err
}

func (s *Store) CreateContact(_ context.Context, contact *domain.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	contact.CreatedAt = time.Now().UTC()

	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(contactsBucket), contact.ID, "contact", contact)
	})
}

func (s *Store) UpsertTarget(_ context.Context, phoneNumber string, contactID *string) (*domain.Target, error) {
	var target *domain.Target

	err := s.db.Update(func(tx *bbolt.Tx) error {
		phones := tx.Bucket(phonesBucket)
		if id := phones.Get([]byte(phoneNumber)); id != nil {
			var err error
			target, err = loadTarget(tx, string(id))
			return err
		}

		target = &domain.Target{
			ID:          uuid.NewString(),
			ContactID:   contactID,
			PhoneNumber: phoneNumber,
			CreatedAt:   time.Now().UTC(),
		}
		if err := put(tx.Bucket(targetsBucket), target.ID, "target", target); err != nil {
			return err
		}
		if err := phones.Put([]byte(phoneNumber), []byte(target.ID)); err != nil {
			return fmt.Errorf("%w: failed to index target phone: %w", repository.ErrDBOperationFailed, err)
		}

		var err error
		target, err = loadTarget(tx, target.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return target, nil
}

func (s *Store) GetTarget(_ context.Context, id string) (*domain.Target, error) {
	var target *domain.Target
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		target, err = loadTarget(tx, id)
		return err
	})
	return target, err
}

func (s *Store) SetDoNotContact(_ context.Context, phoneNumber string, doNotContact bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		id := tx.Bucket(phonesBucket).Get([]byte(phoneNumber))
		if id == nil {
			return fmt.Errorf("%w: target %s", repository.ErrNotFound, phoneNumber)
		}

		b := tx.Bucket(targetsBucket)
		target, err := get[domain.Target](b, string(id), "target")
		if err != nil {
			return err
		}

		target.DoNotContact = doNotContact
		return put(b, target.ID, "target", target)
	})
}

func (s *Store) SaveAnalysis(_ context.Context, analysis *domain.CallAnalysis) error {
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(analysesBucket), analysis.ID, "analysis", analysis)
	})
}
