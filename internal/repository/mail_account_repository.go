// Package repository provides the persistence layer: mail account records
// with their rolling health counters, and the ticket tables the ingestion
// pipeline writes into. Account records themselves are owned by the
// external admin surface; only their health fields are written back here.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/mailgate/internal/models"
)

const accountColumns = `id, host, port, protocol, encryption, username, password,
	max_fetch, delete_after_fetch, archive_folder, fetch_freq_minutes,
	error_count, last_error_at, last_fetch_at, enabled`

// MailAccountRepository reads account records and writes back their rolling
// error/backoff counters.
type MailAccountRepository struct {
	db *sqlx.DB
}

// NewMailAccountRepository wraps the shared database handle.
func NewMailAccountRepository(db *sqlx.DB) *MailAccountRepository {
	return &MailAccountRepository{db: db}
}

// GetPollableAccounts selects up to limit enabled accounts that are
// eligible for polling now: their error count is below the ceiling or
// their last error is older than the delay window, and their last
// successful fetch is older than their configured frequency. An account
// at or above the ceiling stays excluded until the delay passes. Ordered
// least-recently-fetched first, never-fetched accounts leading.
func (r *MailAccountRepository) GetPollableAccounts(ctx context.Context, now time.Time, limit, maxErrors int, errorDelay time.Duration) ([]*models.MailAccount, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM mail_accounts
		WHERE enabled = 1
		  AND (error_count < ? OR last_error_at < ?)
		  AND (last_fetch_at IS NULL OR last_fetch_at < ?)
		ORDER BY last_fetch_at IS NULL DESC, last_fetch_at ASC
		LIMIT ?`, accountColumns)

	errorCutoff := now.Add(-errorDelay)
	// The per-account fetch frequency is applied in Go after the coarse
	// cutoff below, since it varies per row.
	coarseFetchCutoff := now

	var rows []*models.MailAccount
	if err := r.db.SelectContext(ctx, &rows, query, maxErrors, errorCutoff, coarseFetchCutoff, limit); err != nil {
		return nil, fmt.Errorf("select pollable accounts: %w", err)
	}
	eligible := rows[:0]
	for _, acc := range rows {
		if acc.LastFetchAt != nil {
			freq := time.Duration(acc.FetchFreqMinutes) * time.Minute
			if freq > 0 && now.Sub(*acc.LastFetchAt) <= freq {
				continue
			}
		}
		acc.Normalize()
		eligible = append(eligible, acc)
	}
	return eligible, nil
}

// GetByID loads a single account record.
func (r *MailAccountRepository) GetByID(ctx context.Context, id int) (*models.MailAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM mail_accounts WHERE id = ?`, accountColumns)
	var acc models.MailAccount
	if err := r.db.GetContext(ctx, &acc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mail account %d not found", id)
		}
		return nil, fmt.Errorf("get mail account %d: %w", id, err)
	}
	acc.Normalize()
	return &acc, nil
}

// ListAll returns every configured account for operational tooling.
func (r *MailAccountRepository) ListAll(ctx context.Context) ([]*models.MailAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM mail_accounts ORDER BY id`, accountColumns)
	var rows []*models.MailAccount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list mail accounts: %w", err)
	}
	for _, acc := range rows {
		acc.Normalize()
	}
	return rows, nil
}

// MarkFetched records a successful poll: the error counter resets and the
// last-fetch timestamp advances.
func (r *MailAccountRepository) MarkFetched(ctx context.Context, id int, when time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE mail_accounts SET error_count = 0, last_fetch_at = ? WHERE id = ?`, when, id)
	if err != nil {
		return fmt.Errorf("mark account %d fetched: %w", id, err)
	}
	return nil
}

// RecordError increments the account's consecutive error counter and stamps
// the failure time, returning the new count. The update and the read run in
// one transaction so concurrent pollers never race the counter.
func (r *MailAccountRepository) RecordError(ctx context.Context, id int, when time.Time) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record error for account %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE mail_accounts SET error_count = error_count + 1, last_error_at = ? WHERE id = ?`, when, id); err != nil {
		return 0, fmt.Errorf("record error for account %d: %w", id, err)
	}
	var count int
	if err := tx.GetContext(ctx, &count,
		`SELECT error_count FROM mail_accounts WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("read error count for account %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record error for account %d: %w", id, err)
	}
	return count, nil
}
