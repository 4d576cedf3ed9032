package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
app:
  name: mailgate
  env: production
  debug: false

database:
  host: db.internal
  port: 3307
  name: tickets
  user: mailgate
  password: secret
  max_open_conns: 10
  max_idle_conns: 5
  conn_max_lifetime: 5m

redis:
  enabled: true
  host: cache.internal
  port: 6380
  db: 2
  status_ttl: 48h

mail:
  polling_enabled: true
  poll_schedule: "0 */2 * * * *"
  batch_size: 15
  max_account_errors: 7
  error_retry_delay: 20m
  message_failure_ceiling: 50
  default_max_fetch: 30
  dial_timeout: 15s
  cycle_timeout: 8m
  allow_attachments: true
  allowed_file_types:
    - .pdf
    - image/png
    - text/*
  use_email_priority: true
  default_account_id: 3
  banned_senders:
    - Spammer@example.com

alerts:
  enabled: true
  smtp_host: smtp.internal
  smtp_port: 587
  from: alerts@example.com
  admins:
    - root@example.com
  encryption: starttls

metrics:
  enabled: true
  host: 0.0.0.0
  port: 9097
`

func loadTestConfig(t *testing.T, yaml string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	require.NoError(t, LoadFromFile(path))
	t.Cleanup(func() {
		mu.Lock()
		cfg = nil
		mu.Unlock()
	})
	return Get()
}

func TestLoadFromFile(t *testing.T) {
	c := loadTestConfig(t, testConfigYAML)
	require.NotNil(t, c)

	require.Equal(t, "mailgate", c.App.Name)
	require.True(t, c.App.IsProduction())

	require.Equal(t, "mailgate:secret@tcp(db.internal:3307)/tickets?parseTime=true&charset=utf8mb4", c.Database.DSN())
	require.Equal(t, 5*time.Minute, c.Database.ConnMaxLifetime)

	require.True(t, c.Redis.Enabled)
	require.Equal(t, "cache.internal:6380", c.Redis.Addr())
	require.Equal(t, 48*time.Hour, c.Redis.StatusTTL)

	require.True(t, c.Mail.PollingEnabled)
	require.Equal(t, "0 */2 * * * *", c.Mail.PollSchedule)
	require.Equal(t, 15, c.Mail.BatchSize)
	require.Equal(t, 7, c.Mail.MaxAccountErrors)
	require.Equal(t, 20*time.Minute, c.Mail.ErrorRetryDelay)
	require.Equal(t, 50, c.Mail.MessageFailureCeiling)
	require.Equal(t, 30, c.Mail.DefaultMaxFetch)
	require.Equal(t, 15*time.Second, c.Mail.DialTimeout)
	require.Equal(t, 8*time.Minute, c.Mail.CycleTimeout)
	require.Equal(t, []string{".pdf", "image/png", "text/*"}, c.Mail.AllowedFileTypes)
	require.Equal(t, 3, c.Mail.DefaultAccountID)

	require.Equal(t, "smtp.internal", c.Alerts.SMTPHost)
	require.Equal(t, []string{"root@example.com"}, c.Alerts.Admins)

	require.Equal(t, "0.0.0.0:9097", c.Metrics.Addr())
}

func TestLoadFromFileMissing(t *testing.T) {
	err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestMailPolicySwitches(t *testing.T) {
	loadTestConfig(t, testConfigYAML)
	policy := NewMailPolicy()

	require.True(t, policy.EmailPollingEnabled())
	require.True(t, policy.UseEmailPriority())
	require.True(t, policy.AllowEmailAttachments())
	require.Equal(t, 3, policy.DefaultAccountID())
}

func TestFileTypeAllowed(t *testing.T) {
	loadTestConfig(t, testConfigYAML)
	policy := NewMailPolicy()

	tests := []struct {
		name     string
		filename string
		mimeType string
		want     bool
	}{
		{"extension match", "report.pdf", "application/octet-stream", true},
		{"extension case-insensitive", "REPORT.PDF", "application/octet-stream", true},
		{"exact mime match", "logo", "image/png", true},
		{"mime case-insensitive", "logo", "IMAGE/PNG", true},
		{"wildcard match", "notes.txt", "text/plain", true},
		{"no match", "payload.exe", "application/x-msdownload", false},
		{"wildcard does not cross type", "pic.jpg", "image/jpeg", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, policy.FileTypeAllowed(tt.filename, tt.mimeType))
		})
	}
}

func TestFileTypeAllowedEmptyListAllowsAll(t *testing.T) {
	loadTestConfig(t, "mail:\n  allow_attachments: true\n")
	policy := NewMailPolicy()

	require.True(t, policy.FileTypeAllowed("payload.exe", "application/x-msdownload"))
}

func TestStaticBanList(t *testing.T) {
	bans := NewStaticBanList([]string{"Spammer@Example.com", "  junk@example.com  ", ""})

	banned, err := bans.IsBanned(context.Background(), "spammer@example.com")
	require.NoError(t, err)
	require.True(t, banned)

	banned, err = bans.IsBanned(context.Background(), "JUNK@EXAMPLE.COM")
	require.NoError(t, err)
	require.True(t, banned)

	banned, err = bans.IsBanned(context.Background(), "friend@example.com")
	require.NoError(t, err)
	require.False(t, banned)
}
