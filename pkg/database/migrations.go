package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		max_attempts INT NOT NULL,
		retry_delay_hours DOUBLE NOT NULL,
		paused BOOLEAN NOT NULL DEFAULT FALSE,
		agent_id VARCHAR(100) NOT NULL DEFAULT '',
		timezone VARCHAR(64) NOT NULL DEFAULT '',
		business_hours_start VARCHAR(8) NOT NULL DEFAULT '',
		business_hours_end VARCHAR(8) NOT NULL DEFAULT '',
		exclude_weekends BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		do_not_contact BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS targets (
		id VARCHAR(36) PRIMARY KEY,
		contact_id VARCHAR(36) NULL,
		phone_number VARCHAR(20) NOT NULL,
		do_not_contact BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_targets_phone_number (phone_number),
		CONSTRAINT fk_targets_contact FOREIGN KEY (contact_id) REFERENCES contacts (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS sequence_entries (
		id VARCHAR(36) PRIMARY KEY,
		campaign_id VARCHAR(36) NOT NULL,
		target_id VARCHAR(36) NOT NULL,
		current_attempt INT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		next_call_time DATETIME(6) NULL,
		claimed_until DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_sequence_entries_campaign_target (campaign_id, target_id),
		INDEX idx_sequence_entries_ready (status, next_call_time),
		CONSTRAINT fk_sequence_entries_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns (id),
		CONSTRAINT fk_sequence_entries_target FOREIGN KEY (target_id) REFERENCES targets (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS call_analyses (
		id VARCHAR(36) PRIMARY KEY,
		call_id VARCHAR(100) NOT NULL,
		entry_id VARCHAR(36) NULL,
		result JSON NOT NULL,
		analyzed_at DATETIME(6) NOT NULL,
		INDEX idx_call_analyses_call_id (call_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		max_attempts INT NOT NULL,
		retry_delay_hours DOUBLE PRECISION NOT NULL,
		paused BOOLEAN NOT NULL DEFAULT FALSE,
		agent_id VARCHAR(100) NOT NULL DEFAULT '',
		timezone VARCHAR(64) NOT NULL DEFAULT '',
		business_hours_start VARCHAR(8) NOT NULL DEFAULT '',
		business_hours_end VARCHAR(8) NOT NULL DEFAULT '',
		exclude_weekends BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		do_not_contact BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS targets (
		id VARCHAR(36) PRIMARY KEY,
		contact_id VARCHAR(36) NULL REFERENCES contacts (id),
		phone_number VARCHAR(20) NOT NULL UNIQUE,
		do_not_contact BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sequence_entries (
		id VARCHAR(36) PRIMARY KEY,
		campaign_id VARCHAR(36) NOT NULL REFERENCES campaigns (id),
		target_id VARCHAR(36) NOT NULL REFERENCES targets (id),
		current_attempt INT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		next_call_time TIMESTAMPTZ NULL,
		claimed_until TIMESTAMPTZ NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (campaign_id, target_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sequence_entries_ready ON sequence_entries (status, next_call_time)`,
	`CREATE TABLE IF NOT EXISTS call_analyses (
		id VARCHAR(36) PRIMARY KEY,
		call_id VARCHAR(100) NOT NULL,
		entry_id VARCHAR(36) NULL,
		result JSONB NOT NULL,
		analyzed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_analyses_call_id ON call_analyses (call_id)`,
}

// RunMigrations creates the schema for the given driver ("mysql" or "postgres").
func RunMigrations(db *sqlx.DB, driver string) error {
	var statements []string
	switch driver {
	case "mysql":
		statements = mysqlSchema
	case "postgres":
		statements = postgresSchema
	default:
		return fmt.Errorf("no migrations for driver %q", driver)
	}

	for i, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	logger.Infof("Database migrations completed (%s, %d statements)", driver, len(statements))

	return nil
}
