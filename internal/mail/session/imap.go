package session

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/gotrs-io/mailgate/internal/mail/mimetree"
)

type imapConn interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Noop() commandWaiter
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	List(ref, pattern string, options *imap.ListOptions) listWaiter
	Create(mailbox string, options *imap.CreateOptions) commandWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	Move(numSet imap.NumSet, mailbox string) commandWaiter
	Expunge() expungeWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type listWaiter interface {
	Collect() ([]*imap.ListData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}
type expungeWaiter interface{ Close() error }

// IMAPSession drives one IMAP/IMAPS mailbox. The zero default bounds every
// protocol operation with a short dial timeout so an unresponsive server
// cannot stall a poll cycle.
type IMAPSession struct {
	account     Account
	dialTimeout time.Duration
	logger      *log.Logger
	newConn     func(Account) (imapConn, error)

	conn     imapConn
	folder   string
	msgCount uint32
}

// IMAPOption customizes session behavior.
type IMAPOption func(*IMAPSession)

// NewIMAPSession binds a session to one account. The connection is opened
// lazily by Connect or OpenFolder.
func NewIMAPSession(account Account, opts ...IMAPOption) *IMAPSession {
	s := &IMAPSession{
		account:     account,
		dialTimeout: 10 * time.Second,
		logger:      log.Default(),
	}
	s.newConn = s.defaultConnFactory
	for _, opt := range opts {
		opt(s)
	}
	if s.newConn == nil {
		s.newConn = s.defaultConnFactory
	}
	return s
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPOption {
	return func(s *IMAPSession) {
		if timeout > 0 {
			s.dialTimeout = timeout
		}
	}
}

// WithIMAPLogger overrides the logger used for diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPOption {
	return func(s *IMAPSession) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withIMAPConnFactory(factory func(Account) (imapConn, error)) IMAPOption {
	return func(s *IMAPSession) {
		s.newConn = factory
	}
}

// Connect returns a live handle, reusing the current one when the liveness
// probe succeeds and reopening otherwise.
func (s *IMAPSession) Connect() error {
	if s.conn != nil && s.Ping() {
		return nil
	}
	folder := s.folder
	if folder == "" {
		folder = "INBOX"
	}
	return s.OpenFolder(folder)
}

// Ping probes the connection with a NOOP.
func (s *IMAPSession) Ping() bool {
	return s.conn != nil && s.conn.Noop().Wait() == nil
}

// OpenFolder closes any existing handle, reconnects, and selects the named
// folder (INBOX when empty).
func (s *IMAPSession) OpenFolder(name string) error {
	if name == "" {
		name = "INBOX"
	}
	if s.conn != nil {
		if err := s.Close(true); err != nil {
			s.logf("imap %s: close before reopen: %v", s.account.ServerString(), err)
		}
	}
	conn, err := s.newConn(s.account)
	if err != nil {
		return &ConnectionError{Err: fmt.Errorf("imap dial: %w", err)}
	}
	if err := conn.Login(s.account.Username, string(s.account.Password)).Wait(); err != nil {
		_ = conn.Close()
		return &ConnectionError{Err: fmt.Errorf("imap auth: %w", err)}
	}
	data, err := conn.Select(name, nil).Wait()
	if err != nil {
		_ = conn.Close()
		return &ProtocolError{Op: "imap select " + name, Err: err}
	}
	s.conn = conn
	s.folder = name
	s.msgCount = data.NumMessages
	return nil
}

// Close releases the handle, expunging flagged messages first when
// requested. Logout failures are logged, not returned, since the handle is
// discarded either way.
func (s *IMAPSession) Close(expunge bool) error {
	if s.conn == nil {
		return nil
	}
	if expunge {
		if err := s.conn.Expunge().Close(); err != nil {
			s.logf("imap %s: expunge on close: %v", s.account.ServerString(), err)
		}
	}
	if err := s.conn.Logout().Wait(); err != nil {
		s.logf("imap %s: logout: %v", s.account.ServerString(), err)
	}
	err := s.conn.Close()
	s.conn = nil
	s.msgCount = 0
	return err
}

// ListFolders returns folder names relative to the account root, or nil when
// the server call fails.
func (s *IMAPSession) ListFolders() []string {
	if s.conn == nil {
		return nil
	}
	data, err := s.conn.List("", "*", nil).Collect()
	if err != nil {
		s.logf("imap %s: list folders: %v", s.account.ServerString(), err)
		return nil
	}
	folders := make([]string, 0, len(data))
	for _, d := range data {
		if d != nil && d.Mailbox != "" {
			folders = append(folders, d.Mailbox)
		}
	}
	return folders
}

// CreateFolder reports false on empty input or server rejection.
func (s *IMAPSession) CreateFolder(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || s.conn == nil {
		return false
	}
	if err := s.conn.Create(name, nil).Wait(); err != nil {
		s.logf("imap %s: create folder %s: %v", s.account.ServerString(), name, err)
		return false
	}
	return true
}

// EnsureFolder reports whether the folder exists, creating it first when
// requested.
func (s *IMAPSession) EnsureFolder(name string, create bool) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, folder := range s.ListFolders() {
		if folder == name {
			return true
		}
	}
	return create && s.CreateFolder(name)
}

// MessageCount reports the message count of the selected folder.
func (s *IMAPSession) MessageCount() (uint32, error) {
	if s.conn == nil {
		return 0, &ProtocolError{Op: "imap count", Err: errors.New("no folder selected")}
	}
	return s.msgCount, nil
}

// FetchStructure retrieves and converts the message's BODYSTRUCTURE.
func (s *IMAPSession) FetchStructure(seq uint32) (*mimetree.Part, error) {
	buf, err := s.fetchOne(seq, &imap.FetchOptions{
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	})
	if err != nil {
		return nil, &ProtocolError{Op: "imap fetch structure", Err: err}
	}
	part := convertBodyStructure(buf.BodyStructure)
	if part == nil {
		return nil, &ProtocolError{Op: "imap fetch structure", Err: errors.New("server returned no structure")}
	}
	return part, nil
}

// FetchHeader retrieves the raw RFC822 header block.
func (s *IMAPSession) FetchHeader(seq uint32) (string, error) {
	section := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}
	buf, err := s.fetchOne(seq, &imap.FetchOptions{BodySection: []*imap.FetchItemBodySection{section}})
	if err != nil {
		return "", &ProtocolError{Op: "imap fetch header", Err: err}
	}
	return string(buf.FindBodySection(section)), nil
}

// FetchBodySection retrieves the raw body of the part at the structural
// path, still transfer-encoded.
func (s *IMAPSession) FetchBodySection(seq uint32, path string) ([]byte, error) {
	partNums, err := parsePartPath(path)
	if err != nil {
		return nil, &ProtocolError{Op: "imap fetch body", Err: err}
	}
	section := &imap.FetchItemBodySection{Part: partNums, Peek: true}
	buf, err := s.fetchOne(seq, &imap.FetchOptions{BodySection: []*imap.FetchItemBodySection{section}})
	if err != nil {
		return nil, &ProtocolError{Op: "imap fetch body " + path, Err: err}
	}
	return buf.FindBodySection(section), nil
}

// ResolveUID maps a volatile sequence number to its stable UID.
func (s *IMAPSession) ResolveUID(seq uint32) (uint32, error) {
	buf, err := s.fetchOne(seq, &imap.FetchOptions{UID: true})
	if err != nil {
		return 0, &ProtocolError{Op: "imap resolve uid", Err: err}
	}
	return uint32(buf.UID), nil
}

// MarkSeen flags the message identified by UID as seen.
func (s *IMAPSession) MarkSeen(uid uint32) error {
	if s.conn == nil {
		return &ProtocolError{Op: "imap store seen", Err: errors.New("not connected")}
	}
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagSeen}, Silent: true}
	if err := s.conn.Store(imap.UIDSetNum(imap.UID(uid)), store, nil).Close(); err != nil {
		return &ProtocolError{Op: "imap store seen", Err: err}
	}
	return nil
}

// Move transfers the message identified by UID into the named folder.
func (s *IMAPSession) Move(uid uint32, folder string) error {
	if s.conn == nil {
		return &ProtocolError{Op: "imap move", Err: errors.New("not connected")}
	}
	if err := s.conn.Move(imap.UIDSetNum(imap.UID(uid)), folder).Wait(); err != nil {
		return &ProtocolError{Op: "imap move " + folder, Err: err}
	}
	return nil
}

// Delete flags the message at the sequence number for deletion; removal
// happens at the next expunge.
func (s *IMAPSession) Delete(seq uint32) error {
	if s.conn == nil {
		return &ProtocolError{Op: "imap delete", Err: errors.New("not connected")}
	}
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}, Silent: true}
	if err := s.conn.Store(imap.SeqSetNum(seq), store, nil).Close(); err != nil {
		return &ProtocolError{Op: "imap delete", Err: err}
	}
	return nil
}

// Expunge permanently removes messages flagged for deletion.
func (s *IMAPSession) Expunge() error {
	if s.conn == nil {
		return &ProtocolError{Op: "imap expunge", Err: errors.New("not connected")}
	}
	if err := s.conn.Expunge().Close(); err != nil {
		return &ProtocolError{Op: "imap expunge", Err: err}
	}
	return nil
}

func (s *IMAPSession) fetchOne(seq uint32, options *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	if s.conn == nil {
		return nil, errors.New("not connected")
	}
	bufs, err := s.conn.Fetch(imap.SeqSetNum(seq), options).Collect()
	if err != nil {
		return nil, err
	}
	if len(bufs) == 0 {
		return nil, fmt.Errorf("message %d not found", seq)
	}
	return bufs[0], nil
}

func (s *IMAPSession) defaultConnFactory(account Account) (imapConn, error) {
	if account.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	port := account.Port
	if port == 0 {
		if account.UseSSL() {
			port = 993
		} else {
			port = 143
		}
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: s.dialTimeout}}
	addr := fmt.Sprintf("%s:%d", account.Host, port)
	var client *imapclient.Client
	var err error
	if account.UseSSL() {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapConnWrapper{Client: client}, nil
}

func (s *IMAPSession) logf(format string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

type imapConnWrapper struct{ *imapclient.Client }

func (w *imapConnWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapConnWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapConnWrapper) Noop() commandWaiter   { return w.Client.Noop() }
func (w *imapConnWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapConnWrapper) List(ref, pattern string, options *imap.ListOptions) listWaiter {
	return w.Client.List(ref, pattern, options)
}
func (w *imapConnWrapper) Create(mailbox string, options *imap.CreateOptions) commandWaiter {
	return w.Client.Create(mailbox, options)
}
func (w *imapConnWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapConnWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
func (w *imapConnWrapper) Move(numSet imap.NumSet, mailbox string) commandWaiter {
	return &moveWaiter{cmd: w.Client.Move(numSet, mailbox)}
}
func (w *imapConnWrapper) Expunge() expungeWaiter { return w.Client.Expunge() }

type moveWaiter struct{ cmd *imapclient.MoveCommand }

func (m *moveWaiter) Wait() error {
	_, err := m.cmd.Wait()
	return err
}

// parsePartPath splits a dot-separated structural path into 1-based part
// indices.
func parsePartPath(path string) ([]int, error) {
	if path == "" {
		path = "1"
	}
	pieces := strings.Split(path, ".")
	nums := make([]int, 0, len(pieces))
	for _, piece := range pieces {
		n, err := strconv.Atoi(piece)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid part path %q", path)
		}
		nums = append(nums, n)
	}
	return nums, nil
}

func convertBodyStructure(bs imap.BodyStructure) *mimetree.Part {
	switch bs := bs.(type) {
	case *imap.BodyStructureSinglePart:
		part := &mimetree.Part{
			Type:     strings.ToUpper(bs.Type),
			Subtype:  strings.ToUpper(bs.Subtype),
			Encoding: strings.ToUpper(bs.Encoding),
			Params:   orderedParams(bs.Params, "name"),
		}
		if bs.Extended != nil && bs.Extended.Disposition != nil {
			part.Disposition = strings.ToLower(bs.Extended.Disposition.Value)
			part.DispositionParams = orderedParams(bs.Extended.Disposition.Params, "filename")
		}
		return part
	case *imap.BodyStructureMultiPart:
		part := &mimetree.Part{
			Type:    "MULTIPART",
			Subtype: strings.ToUpper(bs.Subtype),
		}
		if bs.Extended != nil && bs.Extended.Disposition != nil {
			part.Disposition = strings.ToLower(bs.Extended.Disposition.Value)
			part.DispositionParams = orderedParams(bs.Extended.Disposition.Params, "filename")
		}
		for _, child := range bs.Children {
			if converted := convertBodyStructure(child); converted != nil {
				part.Children = append(part.Children, converted)
			}
		}
		return part
	default:
		return nil
	}
}

// orderedParams flattens a parameter map, placing the primary key first so
// legacy first-parameter filename extraction keeps working; the remainder is
// sorted for determinism.
func orderedParams(params map[string]string, primary string) []mimetree.Param {
	if len(params) == 0 {
		return nil
	}
	out := make([]mimetree.Param, 0, len(params))
	rest := make([]string, 0, len(params))
	for name := range params {
		if strings.EqualFold(name, primary) {
			out = append(out, mimetree.Param{Name: name, Value: params[name]})
			continue
		}
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, mimetree.Param{Name: name, Value: params[name]})
	}
	return out
}
