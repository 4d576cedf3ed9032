// Package session manages protocol connections to remote mailboxes. Each
// session is bound to exactly one account and is never shared across
// concurrent runs.
package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gotrs-io/mailgate/internal/mail/mimetree"
)

// ErrFolderUnsupported is returned for folder operations the underlying
// protocol cannot express (POP3 has a single implicit mailbox).
var ErrFolderUnsupported = errors.New("folder operations not supported by protocol")

// ConnectionError reports an authentication or network failure while
// opening a session. It is fatal for the current poll and counts against
// the account's rolling error counter.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "mail connect: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a failed protocol verb on an open session. It is
// scoped to one message and never aborts a whole scheduler cycle.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// Account carries the connection-relevant slice of a mail account record.
type Account struct {
	ID         int
	Host       string
	Port       int
	Protocol   string // imap or pop3; "pop" normalizes to "pop3"
	Encryption string // "" / "none" / "ssl"
	Username   string
	Password   []byte
}

// UseSSL reports whether the account requests an encrypted connection.
func (a Account) UseSSL() bool {
	return strings.EqualFold(a.Encryption, "ssl")
}

// ServerString assembles the connection target in the canonical
// {host:port/protocol[/ssl]/novalidate-cert} form used for logging and
// session identity.
func (a Account) ServerString() string {
	s := fmt.Sprintf("{%s:%d/%s", a.Host, a.Port, NormalizeProtocol(a.Protocol))
	if a.UseSSL() {
		s += "/ssl"
	}
	return s + "/novalidate-cert}"
}

// NormalizeProtocol forces "pop" to "pop3" and lower-cases every other
// protocol name verbatim.
func NormalizeProtocol(protocol string) string {
	protocol = strings.TrimSpace(protocol)
	if strings.EqualFold(protocol, "pop") {
		return "pop3"
	}
	return strings.ToLower(protocol)
}

// Session is one live connection to an account's mailbox. Message sequence
// numbers shift as the mailbox is mutated mid-run, so callers resolve them
// to UIDs before flagging or moving.
type Session interface {
	// Connect returns a live handle, reusing the existing one when a
	// liveness probe succeeds and reopening otherwise.
	Connect() error
	// Ping probes connection liveness without side effects.
	Ping() bool
	// OpenFolder closes any existing handle, then opens the named folder.
	// An empty name opens INBOX.
	OpenFolder(name string) error
	// Close releases the handle; when expunge is set, messages flagged for
	// deletion are permanently removed.
	Close(expunge bool) error

	// ListFolders returns decoded folder names relative to the account
	// root, or nil when the server call fails.
	ListFolders() []string
	// CreateFolder reports false on empty input or server rejection.
	CreateFolder(name string) bool
	// EnsureFolder reports whether the folder exists, creating it first
	// when requested.
	EnsureFolder(name string, create bool) bool

	MessageCount() (uint32, error)
	FetchStructure(seq uint32) (*mimetree.Part, error)
	FetchHeader(seq uint32) (string, error)
	FetchBodySection(seq uint32, path string) ([]byte, error)
	ResolveUID(seq uint32) (uint32, error)
	MarkSeen(uid uint32) error
	Move(uid uint32, folder string) error
	Delete(seq uint32) error
	Expunge() error
}
