package models

import (
	"strings"
	"time"
)

// DefaultMaxFetch caps how many messages one poll run ingests when the
// account record carries no usable value.
const DefaultMaxFetch = 20

// MailAccount is one configured remote mailbox plus its polling policy and
// rolling health counters. The record itself lives in the external account
// store; this core only writes back the counter/timestamp fields.
type MailAccount struct {
	ID               int        `json:"id" db:"id"`
	Host             string     `json:"host" db:"host"`
	Port             int        `json:"port" db:"port"`
	Protocol         string     `json:"protocol" db:"protocol"`
	Encryption       string     `json:"encryption" db:"encryption"`
	Username         string     `json:"username" db:"username"`
	Password         string     `json:"-" db:"password"`
	MaxFetch         int        `json:"max_fetch" db:"max_fetch"`
	DeleteAfterFetch bool       `json:"delete_after_fetch" db:"delete_after_fetch"`
	ArchiveFolder    *string    `json:"archive_folder,omitempty" db:"archive_folder"`
	FetchFreqMinutes int        `json:"fetch_freq_minutes" db:"fetch_freq_minutes"`
	ErrorCount       int        `json:"error_count" db:"error_count"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty" db:"last_error_at"`
	LastFetchAt      *time.Time `json:"last_fetch_at,omitempty" db:"last_fetch_at"`
	Enabled          bool       `json:"enabled" db:"enabled"`
}

// Normalize applies the documented field defaults: protocol "pop" is forced
// to "pop3", every other protocol is lower-cased verbatim, and a missing or
// non-positive max-fetch falls back to DefaultMaxFetch.
func (a *MailAccount) Normalize() {
	if a == nil {
		return
	}
	if strings.EqualFold(a.Protocol, "pop") {
		a.Protocol = "pop3"
	} else {
		a.Protocol = strings.ToLower(a.Protocol)
	}
	a.Encryption = strings.ToLower(strings.TrimSpace(a.Encryption))
	if a.MaxFetch <= 0 {
		a.MaxFetch = DefaultMaxFetch
	}
}

// Archive returns the configured archive folder, or empty when archiving is
// not requested for this account.
func (a *MailAccount) Archive() string {
	if a == nil || a.ArchiveFolder == nil {
		return ""
	}
	return strings.TrimSpace(*a.ArchiveFolder)
}
