// Package scheduler selects eligible mail accounts and runs a poll cycle
// over them, recording per-account health and alerting admins when an
// account keeps failing.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gotrs-io/mailgate/internal/cache"
	"github.com/gotrs-io/mailgate/internal/ingest"
	"github.com/gotrs-io/mailgate/internal/mail/session"
	"github.com/gotrs-io/mailgate/internal/models"
)

// Cycle policy defaults. A cycle visits at most DefaultBatchSize accounts;
// an account that has failed DefaultErrorCeiling times in a row is skipped
// until DefaultErrorDelay has passed since its last error.
const (
	DefaultBatchSize    = 10
	DefaultErrorCeiling = 5
	DefaultErrorDelay   = 10 * time.Minute
)

// AccountSource is the persistent mail-account registry.
type AccountSource interface {
	GetPollableAccounts(ctx context.Context, now time.Time, limit, maxErrors int, errorDelay time.Duration) ([]*models.MailAccount, error)
	MarkFetched(ctx context.Context, id int, when time.Time) error
	RecordError(ctx context.Context, id int, when time.Time) (int, error)
}

// StatusRecorder receives best-effort per-account poll summaries.
type StatusRecorder interface {
	Record(ctx context.Context, status cache.PollStatus) error
}

// Scheduler drives poll cycles across the account registry.
type Scheduler struct {
	accounts AccountSource
	sessions session.Factory
	store    ingest.TicketStore
	bans     ingest.BanList
	policy   ingest.Policy
	alerter  ingest.Alerter
	status   StatusRecorder
	metrics  *Metrics
	logger   *log.Logger

	batchSize    int
	errorCeiling int
	errorDelay   time.Duration
	now          func() time.Time

	pipelineOpts []ingest.PipelineOption
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// New wires a scheduler over its collaborators. The alerter and status
// recorder are optional; a nil session factory disables polling outright.
func New(accounts AccountSource, sessions session.Factory, store ingest.TicketStore, bans ingest.BanList, policy ingest.Policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		accounts:     accounts,
		sessions:     sessions,
		store:        store,
		bans:         bans,
		policy:       policy,
		logger:       log.Default(),
		batchSize:    DefaultBatchSize,
		errorCeiling: DefaultErrorCeiling,
		errorDelay:   DefaultErrorDelay,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithAlerter sets the admin alert channel.
func WithAlerter(alerter ingest.Alerter) Option {
	return func(s *Scheduler) { s.alerter = alerter }
}

// WithStatusRecorder sets the poll-status sink.
func WithStatusRecorder(rec StatusRecorder) Option {
	return func(s *Scheduler) { s.status = rec }
}

// WithMetrics sets the metric set updated during cycles.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger overrides the diagnostics logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBatchSize overrides how many accounts one cycle visits.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithErrorPolicy overrides the failure ceiling and retry delay.
func WithErrorPolicy(ceiling int, delay time.Duration) Option {
	return func(s *Scheduler) {
		if ceiling > 0 {
			s.errorCeiling = ceiling
		}
		if delay > 0 {
			s.errorDelay = delay
		}
	}
}

// WithPipelineOptions forwards options to every per-account pipeline.
func WithPipelineOptions(opts ...ingest.PipelineOption) Option {
	return func(s *Scheduler) { s.pipelineOpts = opts }
}

func withClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// RunCycle polls one batch of eligible accounts sequentially. Per-account
// failures are recorded and do not abort the cycle; the returned error
// covers only cycle-level problems such as the eligibility query failing.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	if !s.policy.EmailPollingEnabled() || s.sessions == nil {
		s.logf("scheduler: mail polling disabled, skipping cycle")
		return nil
	}

	start := s.now()
	accounts, err := s.accounts.GetPollableAccounts(ctx, start, s.batchSize, s.errorCeiling, s.errorDelay)
	if err != nil {
		return fmt.Errorf("select pollable accounts: %w", err)
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		s.pollAccount(ctx, account)
	}

	if s.metrics != nil {
		s.metrics.CyclesTotal.Inc()
		s.metrics.CycleDuration.Observe(s.now().Sub(start).Seconds())
	}
	return nil
}

func (s *Scheduler) pollAccount(ctx context.Context, account *models.MailAccount) {
	now := s.now()
	status := cache.PollStatus{
		AccountID: int64(account.ID),
		Host:      account.Host,
		PolledAt:  now,
	}

	outcome, err := s.poll(ctx, account)
	status.MessagesSeen = outcome.MessagesIngested
	if outcome.LastError != "" {
		status.LastError = outcome.LastError
	}

	if err != nil {
		s.logf("scheduler: poll failed for %s on %s: %v", account.Username, account.Host, err)
		status.Succeeded = false
		status.LastError = err.Error()
		s.recordFailure(ctx, account, err, &status)
	} else {
		status.Succeeded = true
		status.NextEligible = now.Add(time.Duration(account.FetchFreqMinutes) * time.Minute)
		if markErr := s.accounts.MarkFetched(ctx, account.ID, now); markErr != nil {
			s.logf("scheduler: mark fetched failed for account %d: %v", account.ID, markErr)
		}
		if s.metrics != nil {
			s.metrics.AccountsPolled.Inc()
			s.metrics.MessagesIngested.Add(float64(outcome.MessagesIngested))
		}
	}

	if s.status != nil {
		if recErr := s.status.Record(ctx, status); recErr != nil {
			s.logf("scheduler: status record failed for account %d: %v", account.ID, recErr)
		}
	}
}

// poll opens a session for the account and runs the ingestion pipeline
// over it. The session is always closed; expunge is requested only after a
// clean run so failed runs leave the mailbox untouched.
func (s *Scheduler) poll(ctx context.Context, account *models.MailAccount) (ingest.PollOutcome, error) {
	sess, err := s.sessions.SessionFor(session.Account{
		ID:         account.ID,
		Host:       account.Host,
		Port:       account.Port,
		Protocol:   account.Protocol,
		Encryption: account.Encryption,
		Username:   account.Username,
		Password:   []byte(account.Password),
	})
	if err != nil {
		return ingest.PollOutcome{}, fmt.Errorf("session for %s: %w", account.Host, err)
	}

	opts := append([]ingest.PipelineOption{ingest.WithPipelineLogger(s.logger)}, s.pipelineOpts...)
	pipeline := ingest.NewPipeline(sess, account, s.store, s.bans, s.policy, opts...)

	outcome, err := pipeline.FetchMessages(ctx)
	if err != nil {
		if closeErr := sess.Close(false); closeErr != nil {
			s.logf("scheduler: close failed for %s: %v", account.Host, closeErr)
		}
		return outcome, err
	}
	if closeErr := sess.Close(true); closeErr != nil {
		s.logf("scheduler: close failed for %s: %v", account.Host, closeErr)
	}
	return outcome, nil
}

// recordFailure bumps the account's error count and, on reaching the
// ceiling, sends a one-time admin alert naming the account and the error.
func (s *Scheduler) recordFailure(ctx context.Context, account *models.MailAccount, pollErr error, status *cache.PollStatus) {
	if s.metrics != nil {
		s.metrics.AccountsFailed.Inc()
	}
	count, err := s.accounts.RecordError(ctx, account.ID, s.now())
	if err != nil {
		s.logf("scheduler: record error failed for account %d: %v", account.ID, err)
		return
	}
	status.ErrorCount = count
	status.NextEligible = s.now().Add(s.errorDelay)

	if count == s.errorCeiling && s.alerter != nil {
		subject := "Mail Fetch Failure Alert"
		body := fmt.Sprintf(
			"The mail fetcher is having trouble fetching mail from the following account:\n\n"+
				"User: %s\nHost: %s\nError: %v\n\n"+
				"%d consecutive errors. The account is disabled from polling until the retry delay passes or the error is resolved.",
			account.Username, account.Host, pollErr, count)
		if alertErr := s.alerter.NotifyAdmins(subject, body); alertErr != nil {
			s.logf("scheduler: admin alert failed for account %d: %v", account.ID, alertErr)
		} else if s.metrics != nil {
			s.metrics.AlertsSent.Inc()
		}
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
