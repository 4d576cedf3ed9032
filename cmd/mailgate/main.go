package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gotrs-io/mailgate/internal/cache"
	"github.com/gotrs-io/mailgate/internal/config"
	"github.com/gotrs-io/mailgate/internal/ingest"
	"github.com/gotrs-io/mailgate/internal/mail/session"
	"github.com/gotrs-io/mailgate/internal/notifications"
	"github.com/gotrs-io/mailgate/internal/repository"
	"github.com/gotrs-io/mailgate/internal/runner"
	"github.com/gotrs-io/mailgate/internal/runner/tasks"
	"github.com/gotrs-io/mailgate/internal/scheduler"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "mailgate",
	Short: "Mail-to-ticket ingestion gateway",
	Long: `mailgate polls IMAP and POP3 mailboxes, turns inbound mail into
ticket create/append events, and tracks per-account polling health.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cron-driven poll loop",
	RunE:  runServe,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single poll cycle and exit",
	RunE:  runPoll,
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List configured mail accounts and their health",
	RunE:  runAccounts,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "./configs", "Directory holding default.yaml and config.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(accountsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("mysql", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	return db, nil
}

// buildScheduler wires the poll scheduler from the loaded config. The
// returned cleanup closes the database and cache handles.
func buildScheduler(cfg *config.Config, reg prometheus.Registerer, logger *log.Logger) (*scheduler.Scheduler, func(), error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { db.Close() }

	accounts := repository.NewMailAccountRepository(db)
	tickets := repository.NewTicketRepository(db)
	policy := config.NewMailPolicy()
	bans := config.NewStaticBanList(cfg.Mail.BannedSenders)

	dialTimeout := cfg.Mail.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	factory := session.DefaultFactory(
		[]session.IMAPOption{session.WithIMAPDialTimeout(dialTimeout), session.WithIMAPLogger(logger)},
		[]session.POP3Option{session.WithPOP3DialTimeout(dialTimeout), session.WithPOP3Logger(logger)},
	)

	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(scheduler.NewMetrics(reg)),
	}
	if cfg.Mail.BatchSize > 0 {
		opts = append(opts, scheduler.WithBatchSize(cfg.Mail.BatchSize))
	}
	if cfg.Mail.MaxAccountErrors > 0 || cfg.Mail.ErrorRetryDelay > 0 {
		opts = append(opts, scheduler.WithErrorPolicy(cfg.Mail.MaxAccountErrors, cfg.Mail.ErrorRetryDelay))
	}
	if cfg.Mail.MessageFailureCeiling > 0 {
		opts = append(opts, scheduler.WithPipelineOptions(
			ingest.WithPipelineFailureCeiling(cfg.Mail.MessageFailureCeiling)))
	}
	if cfg.Alerts.Enabled {
		opts = append(opts, scheduler.WithAlerter(notifications.NewSMTPAlerter(notifications.SMTPConfig{
			Host:       cfg.Alerts.SMTPHost,
			Port:       cfg.Alerts.SMTPPort,
			Username:   cfg.Alerts.Username,
			Password:   cfg.Alerts.Password,
			From:       cfg.Alerts.From,
			Admins:     cfg.Alerts.Admins,
			Encryption: cfg.Alerts.Encryption,
		})))
	}
	if cfg.Redis.Enabled {
		status, err := cache.NewStatusCache(cache.StatusConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.StatusTTL,
		})
		if err != nil {
			logger.Printf("status cache unavailable, continuing without: %v", err)
		} else {
			opts = append(opts, scheduler.WithStatusRecorder(status))
			prev := cleanup
			cleanup = func() { status.Close(); prev() }
		}
	}

	sched := scheduler.New(accounts, factory, tickets, bans, policy, opts...)
	return sched, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.Load(configPathFlag); err != nil {
		return err
	}
	cfg := config.Get()
	logger := log.New(os.Stdout, "[mailgate] ", log.LstdFlags)

	reg := prometheus.NewRegistry()
	sched, cleanup, err := buildScheduler(cfg, reg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr(), Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	registry := runner.NewTaskRegistry()
	registry.Register(tasks.NewMailPollTask(sched, cfg.Mail.PollSchedule, cfg.Mail.CycleTimeout))

	return runner.NewRunner(registry, runner.WithRunnerLogger(logger)).Start(cmd.Context())
}

func runPoll(cmd *cobra.Command, args []string) error {
	if err := config.Load(configPathFlag); err != nil {
		return err
	}
	cfg := config.Get()
	logger := log.New(os.Stdout, "[mailgate] ", log.LstdFlags)

	sched, cleanup, err := buildScheduler(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if cfg.Mail.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Mail.CycleTimeout)
		defer cancel()
	}
	return sched.RunCycle(ctx)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	if err := config.Load(configPathFlag); err != nil {
		return err
	}
	cfg := config.Get()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	accounts, err := repository.NewMailAccountRepository(db).ListAll(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("%-4s %-30s %-6s %-5s %-8s %-7s %s\n",
		"ID", "HOST", "PROTO", "PORT", "ENABLED", "ERRORS", "LAST FETCH")
	for _, a := range accounts {
		lastFetch := "never"
		if a.LastFetchAt != nil {
			lastFetch = a.LastFetchAt.Format(time.RFC3339)
		}
		fmt.Printf("%-4d %-30s %-6s %-5d %-8t %-7d %s\n",
			a.ID, a.Host, a.Protocol, a.Port, a.Enabled, a.ErrorCount, lastFetch)
	}
	return nil
}
