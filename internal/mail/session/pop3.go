package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/knadh/go-pop3"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/gotrs-io/mailgate/internal/mail/mimetree"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

type pop3Conn interface {
	Auth(user, password string) error
	Noop() error
	Stat() (int, int, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
	Rset() error
	Quit() error
}

type pop3ConnFactory func(Account) (pop3Conn, error)

// POP3Session drives one POP3/POP3S mailbox. POP3 has a single implicit
// folder and no flags, so folder operations degrade: listing yields
// nothing, moves are unsupported, and mark-seen is a no-op. Deletions
// commit when the session closes with expunge; closing without expunge
// resets them.
type POP3Session struct {
	account     Account
	dialTimeout time.Duration
	logger      *log.Logger
	newConn     pop3ConnFactory

	conn pop3Conn
	// Retrieved messages are cached per sequence number: the whole payload
	// arrives at once, and the walker asks for structure, header, and body
	// sections separately.
	cache map[uint32]*pop3Message
}

type pop3Message struct {
	header string
	root   *mimetree.Part
	bodies map[string][]byte
}

// POP3Option customizes session behavior.
type POP3Option func(*POP3Session)

// NewPOP3Session binds a session to one account.
func NewPOP3Session(account Account, opts ...POP3Option) *POP3Session {
	s := &POP3Session{
		account:     account,
		dialTimeout: 10 * time.Second,
		logger:      log.Default(),
		cache:       make(map[uint32]*pop3Message),
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

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3Option {
	return func(s *POP3Session) {
		if timeout > 0 {
			s.dialTimeout = timeout
		}
	}
}

// WithPOP3Logger overrides the logger used for diagnostics.
func WithPOP3Logger(logger *log.Logger) POP3Option {
	return func(s *POP3Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withPOP3ConnFactory(factory pop3ConnFactory) POP3Option {
	return func(s *POP3Session) {
		s.newConn = factory
	}
}

// Connect returns a live handle, reusing the current one when the liveness
// probe succeeds and reopening otherwise.
func (s *POP3Session) Connect() error {
	if s.conn != nil && s.Ping() {
		return nil
	}
	if s.conn != nil {
		_ = s.Close(false)
	}
	conn, err := s.newConn(s.account)
	if err != nil {
		return &ConnectionError{Err: fmt.Errorf("pop3 dial: %w", err)}
	}
	if err := conn.Auth(s.account.Username, string(s.account.Password)); err != nil {
		_ = conn.Quit()
		return &ConnectionError{Err: fmt.Errorf("pop3 auth: %w", err)}
	}
	s.conn = conn
	s.cache = make(map[uint32]*pop3Message)
	return nil
}

// Ping probes the connection with a NOOP.
func (s *POP3Session) Ping() bool {
	return s.conn != nil && s.conn.Noop() == nil
}

// OpenFolder accepts only the implicit INBOX; any other name is a protocol
// error.
func (s *POP3Session) OpenFolder(name string) error {
	if name != "" && !strings.EqualFold(name, "INBOX") {
		return &ProtocolError{Op: "pop3 open " + name, Err: ErrFolderUnsupported}
	}
	return s.Connect()
}

// Close ends the session. With expunge, QUIT commits pending deletions;
// without it, pending deletions are reset first.
func (s *POP3Session) Close(expunge bool) error {
	if s.conn == nil {
		return nil
	}
	if !expunge {
		if err := s.conn.Rset(); err != nil {
			s.logf("pop3 %s: rset: %v", s.account.ServerString(), err)
		}
	}
	err := s.conn.Quit()
	s.conn = nil
	s.cache = make(map[uint32]*pop3Message)
	return err
}

// ListFolders returns nil; POP3 exposes no folder listing.
func (s *POP3Session) ListFolders() []string { return nil }

// CreateFolder reports false; POP3 cannot create folders.
func (s *POP3Session) CreateFolder(string) bool { return false }

// EnsureFolder reports true only for the implicit INBOX.
func (s *POP3Session) EnsureFolder(name string, _ bool) bool {
	return strings.EqualFold(strings.TrimSpace(name), "INBOX")
}

// MessageCount reports the mailbox message count via STAT.
func (s *POP3Session) MessageCount() (uint32, error) {
	if s.conn == nil {
		return 0, &ProtocolError{Op: "pop3 stat", Err: errors.New("not connected")}
	}
	count, _, err := s.conn.Stat()
	if err != nil {
		return 0, &ProtocolError{Op: "pop3 stat", Err: err}
	}
	return uint32(count), nil
}

// FetchStructure parses the retrieved message into its part tree.
func (s *POP3Session) FetchStructure(seq uint32) (*mimetree.Part, error) {
	msg, err := s.retrieve(seq)
	if err != nil {
		return nil, err
	}
	return msg.root, nil
}

// FetchHeader returns the raw header block of the retrieved message.
func (s *POP3Session) FetchHeader(seq uint32) (string, error) {
	msg, err := s.retrieve(seq)
	if err != nil {
		return "", err
	}
	return msg.header, nil
}

// FetchBodySection serves a structural path from the locally parsed tree.
// Bodies are already transfer-decoded during parsing; the tree reports
// pass-through encodings accordingly.
func (s *POP3Session) FetchBodySection(seq uint32, path string) ([]byte, error) {
	msg, err := s.retrieve(seq)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = "1"
	}
	body, ok := msg.bodies[path]
	if !ok {
		return nil, &ProtocolError{Op: "pop3 body " + path, Err: errors.New("no such part")}
	}
	return body, nil
}

// ResolveUID returns the sequence number itself; POP3 message numbering is
// stable for the lifetime of a session.
func (s *POP3Session) ResolveUID(seq uint32) (uint32, error) {
	if s.conn == nil {
		return 0, &ProtocolError{Op: "pop3 uidl", Err: errors.New("not connected")}
	}
	return seq, nil
}

// MarkSeen is a no-op; POP3 has no flags.
func (s *POP3Session) MarkSeen(uint32) error { return nil }

// Move is unsupported; the pipeline falls back to deletion.
func (s *POP3Session) Move(_ uint32, folder string) error {
	return &ProtocolError{Op: "pop3 move " + folder, Err: ErrFolderUnsupported}
}

// Delete marks the message for deletion; removal commits at Close(true).
func (s *POP3Session) Delete(seq uint32) error {
	if s.conn == nil {
		return &ProtocolError{Op: "pop3 dele", Err: errors.New("not connected")}
	}
	if err := s.conn.Dele(int(seq)); err != nil {
		return &ProtocolError{Op: "pop3 dele", Err: err}
	}
	delete(s.cache, seq)
	return nil
}

// Expunge is a no-op; POP3 commits deletions when the session quits.
func (s *POP3Session) Expunge() error { return nil }

func (s *POP3Session) retrieve(seq uint32) (*pop3Message, error) {
	if msg, ok := s.cache[seq]; ok {
		return msg, nil
	}
	if s.conn == nil {
		return nil, &ProtocolError{Op: "pop3 retr", Err: errors.New("not connected")}
	}
	payload, err := s.conn.RetrRaw(int(seq))
	if err != nil {
		return nil, &ProtocolError{Op: fmt.Sprintf("pop3 retr %d", seq), Err: err}
	}
	raw := payload.Bytes()
	msg := &pop3Message{
		header: splitHeaderBlock(raw),
		bodies: make(map[string][]byte),
	}
	root, err := parseMessageTree(raw, msg.bodies)
	if err != nil {
		return nil, &ProtocolError{Op: fmt.Sprintf("pop3 parse %d", seq), Err: err}
	}
	msg.root = root
	s.cache[seq] = msg
	return msg, nil
}

func (s *POP3Session) defaultConnFactory(account Account) (pop3Conn, error) {
	if account.Host == "" {
		return nil, errors.New("pop3 account missing host")
	}
	port := account.Port
	if port == 0 {
		if account.UseSSL() {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:          account.Host,
		Port:          port,
		DialTimeout:   s.dialTimeout,
		TLSEnabled:    account.UseSSL(),
		TLSSkipVerify: true,
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *POP3Session) logf(format string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func splitHeaderBlock(raw []byte) string {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return string(raw[:i+2])
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return string(raw[:i+1])
	}
	return string(raw)
}

// parseMessageTree builds the part tree for a fully retrieved message and
// records leaf bodies under their structural paths. go-message reverses the
// transfer encoding and charset while reading, so leaves are reported with
// a pass-through encoding and a UTF-8 charset.
func parseMessageTree(raw []byte, bodies map[string][]byte) (*mimetree.Part, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, err
	}
	return parseEntity(entity, "", bodies)
}

func parseEntity(entity *gomessage.Entity, path string, bodies map[string][]byte) (*mimetree.Part, error) {
	mediaType, params, err := entity.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
		params = nil
	}
	typ, subtype := splitMediaType(mediaType)
	part := &mimetree.Part{Type: typ, Subtype: subtype}

	if disp, dispParams, err := entity.Header.ContentDisposition(); err == nil && disp != "" {
		part.Disposition = strings.ToLower(disp)
		part.DispositionParams = orderedParams(dispParams, "filename")
	}

	if mr := entity.MultipartReader(); mr != nil {
		for i := 0; ; i++ {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, err
			}
			childPart, err := parseEntity(child, childPathFor(path, i), bodies)
			if err != nil {
				return nil, err
			}
			part.Children = append(part.Children, childPart)
		}
		return part, nil
	}

	part.Encoding = mimetree.Encoding8Bit
	if strings.EqualFold(typ, "TEXT") {
		// go-message already converted the text to UTF-8.
		params = overrideCharset(params)
	}
	part.Params = orderedParams(params, "name")

	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return nil, err
	}
	key := path
	if key == "" {
		key = "1"
	}
	bodies[key] = body
	return part, nil
}

func childPathFor(prefix string, i int) string {
	idx := fmt.Sprintf("%d", i+1)
	if prefix == "" {
		return idx
	}
	return prefix + "." + idx
}

func splitMediaType(mediaType string) (string, string) {
	mediaType = strings.ToUpper(strings.TrimSpace(mediaType))
	if i := strings.Index(mediaType, "/"); i >= 0 {
		return mediaType[:i], mediaType[i+1:]
	}
	return mediaType, ""
}

func overrideCharset(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+1)
	for name, value := range params {
		if strings.EqualFold(name, "charset") {
			continue
		}
		out[name] = value
	}
	out["charset"] = "utf-8"
	return out
}
