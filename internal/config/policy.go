package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
)

// MailPolicy exposes the mail section as the ingestion policy switches.
// It reads the live config on every call so hot reloads take effect
// without rewiring.
type MailPolicy struct{}

// NewMailPolicy returns the config-backed policy.
func NewMailPolicy() *MailPolicy { return &MailPolicy{} }

func (p *MailPolicy) mail() MailConfig {
	c := Get()
	if c == nil {
		return MailConfig{}
	}
	return c.Mail
}

func (p *MailPolicy) EmailPollingEnabled() bool { return p.mail().PollingEnabled }

func (p *MailPolicy) UseEmailPriority() bool { return p.mail().UseEmailPriority }

func (p *MailPolicy) AllowEmailAttachments() bool { return p.mail().AllowAttachments }

func (p *MailPolicy) DefaultAccountID() int { return p.mail().DefaultAccountID }

// FileTypeAllowed matches the filename extension or MIME type against the
// allowed_file_types list. Entries are extensions (".pdf"), exact MIME
// types ("image/png"), or MIME wildcards ("image/*"). An empty list allows
// everything.
func (p *MailPolicy) FileTypeAllowed(filename, mimeType string) bool {
	allowed := p.mail().AllowedFileTypes
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	mimeType = strings.ToLower(mimeType)
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
			continue
		case strings.HasPrefix(entry, "."):
			if entry == ext {
				return true
			}
		case strings.HasSuffix(entry, "/*"):
			if strings.HasPrefix(mimeType, strings.TrimSuffix(entry, "*")) {
				return true
			}
		default:
			if entry == mimeType {
				return true
			}
		}
	}
	return false
}

// StaticBanList answers banned-sender lookups from the configured list.
type StaticBanList struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

// NewStaticBanList builds a ban list from the banned_senders entries.
func NewStaticBanList(senders []string) *StaticBanList {
	b := &StaticBanList{entries: make(map[string]struct{}, len(senders))}
	for _, s := range senders {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			b.entries[s] = struct{}{}
		}
	}
	return b
}

// IsBanned reports whether the address is on the list, case-insensitively.
func (b *StaticBanList) IsBanned(_ context.Context, email string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, banned := b.entries[strings.ToLower(strings.TrimSpace(email))]
	return banned, nil
}
