package session

import (
	"fmt"
	"sync"
)

// Factory resolves the session implementation for an account's protocol.
type Factory interface {
	SessionFor(account Account) (Session, error)
}

// Builder constructs a session bound to one account.
type Builder func(Account) Session

// FactoryOption customizes a session factory.
type FactoryOption func(*simpleFactory)

type simpleFactory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewFactory builds a session factory with the provided options.
func NewFactory(opts ...FactoryOption) Factory {
	f := &simpleFactory{builders: make(map[string]Builder)}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// DefaultFactory returns a factory preloaded with the built-in IMAP and
// POP3 sessions. The options apply to every session it hands out.
func DefaultFactory(imapOpts []IMAPOption, pop3Opts []POP3Option) Factory {
	return NewFactory(
		WithBuilder(func(acc Account) Session { return NewIMAPSession(acc, imapOpts...) }, "imap"),
		WithBuilder(func(acc Account) Session { return NewPOP3Session(acc, pop3Opts...) }, "pop3", "pop"),
	)
}

// WithBuilder registers a session builder for the provided protocols.
func WithBuilder(builder Builder, protocols ...string) FactoryOption {
	return func(f *simpleFactory) {
		if f == nil || builder == nil {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, p := range protocols {
			key := NormalizeProtocol(p)
			if key == "" {
				continue
			}
			f.builders[key] = builder
		}
	}
}

func (f *simpleFactory) SessionFor(account Account) (Session, error) {
	key := NormalizeProtocol(account.Protocol)
	f.mu.RLock()
	builder, ok := f.builders[key]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no session registered for protocol %s", account.Protocol)
	}
	return builder(account), nil
}
