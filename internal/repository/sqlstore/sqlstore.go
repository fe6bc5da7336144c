// Package sqlstore implements repository.Store on MySQL or Postgres through sqlx.
// Queries are written with '?' placeholders and rebound for the driver in use.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/repository"
	"github.com/onurcolak/sequence-dialer/internal/sequence"
)

const (
	mysqlDuplicateEntry     = 1062
	postgresUniqueViolation = "23505"
)

const entryColumns = `e.id, e.campaign_id, e.target_id, e.current_attempt, e.status,
	e.next_call_time, e.claimed_until, e.created_at, e.updated_at`

const campaignColumns = `id, name, max_attempts, retry_delay_hours, paused, agent_id,
	timezone, business_hours_start, business_hours_end, exclude_weekends, created_at, updated_at`

const targetColumns = `t.id, t.contact_id, t.phone_number, t.do_not_contact,
	COALESCE(c.do_not_contact, FALSE) AS contact_do_not_contact, t.created_at`

// Store handles database operations for campaigns, targets and sequence entries.
type Store struct {
	db *sqlx.DB
}

var _ repository.Store = (*Store)(nil)

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func (s *Store) FindReady(ctx context.Context, now time.Time, limit int) ([]domain.SequenceEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM sequence_entries e
		JOIN campaigns c ON c.id = e.campaign_id
		JOIN targets t ON t.id = e.target_id
		LEFT JOIN contacts ct ON ct.id = t.contact_id
		WHERE e.status = 'active'
			AND e.next_call_time IS NOT NULL
			AND e.next_call_time <= ?
			AND (e.claimed_until IS NULL OR e.claimed_until <= ?)
			AND c.paused = FALSE
			AND t.do_not_contact = FALSE
			AND (ct.do_not_contact IS NULL OR ct.do_not_contact = FALSE)
		ORDER BY e.next_call_time ASC
		LIMIT ?
	`

	entries := []domain.SequenceEntry{}
	if err := s.db.SelectContext(ctx, &entries, s.q(query), now.UTC(), now.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to find ready entries: %w", err)
	}

	return entries, nil
}

// Claim is a single conditional update; the row count decides the winner.
func (s *Store) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	query := `
		UPDATE sequence_entries
		SET claimed_until = ?, updated_at = ?
		WHERE id = ?
			AND status = 'active'
			AND next_call_time IS NOT NULL
			AND next_call_time <= ?
			AND (claimed_until IS NULL OR claimed_until <= ?)
	`

	now = now.UTC()
	result, err := s.db.ExecContext(ctx, s.q(query), now.Add(lease), now, id, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim entry %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows == 1, nil
}

func (s *Store) ApplyOutcome(
	ctx context.Context,
	id string,
	outcome domain.DispatchOutcome,
	campaign domain.Campaign,
	now time.Time,
) (*domain.SequenceEntry, error) {
	entry, err := s.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	if entry.Status != domain.StatusActive {
		return nil, fmt.Errorf("%w: entry %s is %s", repository.ErrTransitionConflict, id, entry.Status)
	}

	now = now.UTC()
	tr := sequence.Next(*entry, outcome, campaign, now)

	query := `
		UPDATE sequence_entries
		SET current_attempt = ?, status = ?, next_call_time = ?, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'active' AND current_attempt = ?
	`

	result, err := s.db.ExecContext(ctx, s.q(query),
		tr.CurrentAttempt, tr.Status, tr.NextCallTime, now, id, entry.CurrentAttempt)
	if err != nil {
		return nil, fmt.Errorf("failed to apply outcome to entry %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return nil, fmt.Errorf("%w: entry %s", repository.ErrTransitionConflict, id)
	}

	updated := tr.Apply(*entry, now)
	return &updated, nil
}

func (s *Store) Reschedule(ctx context.Context, id string, next, now time.Time) (bool, error) {
	query := `
		UPDATE sequence_entries
		SET next_call_time = ?, updated_at = ?
		WHERE id = ?
			AND status = 'active'
			AND (claimed_until IS NULL OR claimed_until <= ?)
	`

	now = now.UTC()
	result, err := s.db.ExecContext(ctx, s.q(query), next.UTC(), now, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule entry %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows == 1, nil
}

func (s *Store) MarkStopped(ctx context.Context, id string, now time.Time) (*domain.SequenceEntry, error) {
	query := `
		UPDATE sequence_entries
		SET status = 'stopped', next_call_time = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ?
	`

	if _, err := s.db.ExecContext(ctx, s.q(query), now.UTC(), id); err != nil {
		return nil, fmt.Errorf("failed to stop entry %s: %w", id, err)
	}

	// RowsAffected is not used here: MySQL reports 0 for a no-op rewrite of an already stopped row.
	return s.GetEntry(ctx, id)
}

func (s *Store) MarkTerminalByPhone(
	ctx context.Context,
	phoneNumber string,
	status domain.EntryStatus,
	now time.Time,
) (int64, error) {
	if !repository.ValidTerminalOverwrite(status) {
		return 0, fmt.Errorf("%w: %q cannot be set by phone number", repository.ErrInvalidStatus, status)
	}

	query := `
		UPDATE sequence_entries
		SET status = ?, next_call_time = NULL, claimed_until = NULL, updated_at = ?
		WHERE target_id IN (SELECT id FROM targets WHERE phone_number = ?)
	`

	result, err := s.db.ExecContext(ctx, s.q(query), status, now.UTC(), phoneNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to mark entries for %s as %s: %w", phoneNumber, status, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

func (s *Store) Enroll(ctx context.Context, entry *domain.SequenceEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now

	query := `
		INSERT INTO sequence_entries
			(id, campaign_id, target_id, current_attempt, status, next_call_time, claimed_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.q(query),
		entry.ID, entry.CampaignID, entry.TargetID, entry.CurrentAttempt, entry.Status,
		entry.NextCallTime, entry.ClaimedUntil, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: target %s is already enrolled in campaign %s",
				repository.ErrDuplicateEntry, entry.TargetID, entry.CampaignID)
		}
		return fmt.Errorf("failed to enroll entry: %w", err)
	}

	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*domain.SequenceEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM sequence_entries e WHERE e.id = ?`

	var entry domain.SequenceEntry
	if err := s.db.GetContext(ctx, &entry, s.q(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: entry %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return &entry, nil
}

func (s *Store) ListEntries(
	ctx context.Context,
	status *domain.EntryStatus,
	page,
	pageSize int,
) ([]domain.SequenceEntry, int64, error) {
	offset := (page - 1) * pageSize

	where := ""
	args := []any{}
	if status != nil {
		where = "WHERE e.status = ?"
		args = append(args, *status)
	}

	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM sequence_entries e " + where
	if err := s.db.GetContext(ctx, &totalCount, s.q(countQuery), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count entries: %w", err)
	}

	query := `SELECT ` + entryColumns + ` FROM sequence_entries e ` + where + `
		ORDER BY e.created_at DESC
		LIMIT ? OFFSET ?`

	entries := []domain.SequenceEntry{}
	if err := s.db.SelectContext(ctx, &entries, s.q(query), append(args, pageSize, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list entries: %w", err)
	}

	return entries, totalCount, nil
}

func (s *Store) Stats(ctx context.Context) (domain.EntryStats, error) {
	var rows []struct {
		Status domain.EntryStatus `db:"status"`
		Count  int64              `db:"count"`
	}

	query := "SELECT status, COUNT(*) AS count FROM sequence_entries GROUP BY status"
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return domain.EntryStats{}, fmt.Errorf("failed to get entry stats: %w", err)
	}

	var stats domain.EntryStats
	for _, r := range rows {
		switch r.Status {
		case domain.StatusActive:
			stats.Active = r.Count
		case domain.StatusCompleted:
			stats.Completed = r.Count
		case domain.StatusStopped:
			stats.Stopped = r.Count
		case domain.StatusMaxAttemptsReached:
			stats.MaxAttemptsReached = r.Count
		}
	}

	return stats, nil
}

func (s *Store) CreateCampaign(ctx context.Context, campaign *domain.Campaign) error {
	if campaign.ID == "" {
		campaign.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	campaign.CreatedAt, campaign.UpdatedAt = now, now

	query := `INSERT INTO campaigns (` + campaignColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, s.q(query),
		campaign.ID, campaign.Name, campaign.MaxAttempts, campaign.RetryDelayHours, campaign.Paused, campaign.AgentID,
		campaign.Timezone, campaign.Start, campaign.End, campaign.ExcludeWeekends,
		campaign.CreatedAt, campaign.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: campaign %s", repository.ErrDuplicateEntry, campaign.ID)
		}
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = ?`

	var campaign domain.Campaign
	if err := s.db.GetContext(ctx, &campaign, s.q(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: campaign %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

func (s *Store) CreateContact(ctx context.Context, contact *domain.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	contact.CreatedAt = time.Now().UTC()

	query := `INSERT INTO contacts (id, name, do_not_contact, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.q(query),
		contact.ID, contact.Name, contact.DoNotContact, contact.CreatedAt); err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	return nil
}

func (s *Store) UpsertTarget(ctx context.Context, phoneNumber string, contactID *string) (*domain.Target, error) {
	target, err := s.getTargetBy(ctx, "t.phone_number = ?", phoneNumber)
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	query := `INSERT INTO targets (id, contact_id, phone_number, do_not_contact, created_at) VALUES (?, ?, ?, FALSE, ?)`
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, s.q(query), id, contactID, phoneNumber, time.Now().UTC()); err != nil {
		if isUniqueViolation(err) {
			// Lost an insert race for the same number; the winner's row is the target.
			return s.getTargetBy(ctx, "t.phone_number = ?", phoneNumber)
		}
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	return s.GetTarget(ctx, id)
}

func (s *Store) GetTarget(ctx context.Context, id string) (*domain.Target, error) {
	return s.getTargetBy(ctx, "t.id = ?", id)
}

func (s *Store) getTargetBy(ctx context.Context, cond string, arg any) (*domain.Target, error) {
	query := `SELECT ` + targetColumns + `
		FROM targets t
		LEFT JOIN contacts c ON c.id = t.contact_id
		WHERE ` + cond

	var target domain.Target
	if err := s.db.GetContext(ctx, &target, s.q(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: target %v", repository.ErrNotFound, arg)
		}
		return nil, fmt.Errorf("failed to get target: %w", err)
	}

	return &target, nil
}

func (s *Store) SetDoNotContact(ctx context.Context, phoneNumber string, doNotContact bool) error {
	query := `UPDATE targets SET do_not_contact = ? WHERE phone_number = ?`

	result, err := s.db.ExecContext(ctx, s.q(query), doNotContact, phoneNumber)
	if err != nil {
		return fmt.Errorf("failed to update do-not-contact flag: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		if _, err := s.getTargetBy(ctx, "t.phone_number = ?", phoneNumber); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) SaveAnalysis(ctx context.Context, analysis *domain.CallAnalysis) error {
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}

	result := analysis.Result
	if !json.Valid(result) {
		return fmt.Errorf("%w: analysis result for call %s is not valid JSON",
			repository.ErrSerializationFailed, analysis.CallID)
	}

	query := `INSERT INTO call_analyses (id, call_id, entry_id, result, analyzed_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.q(query),
		analysis.ID, analysis.CallID, analysis.EntryID, string(result), analysis.AnalyzedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}

	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == postgresUniqueViolation
	}

	return false
}
