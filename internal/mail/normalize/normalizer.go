// Package normalize turns raw mail messages into the flat representation
// the correlation engine consumes.
package normalize

import (
	"errors"
	"log"
	"mime"
	stdmail "net/mail"
	"strings"

	msgcharset "github.com/emersion/go-message/charset"

	"github.com/gotrs-io/mailgate/internal/mail/mimetree"
	"github.com/gotrs-io/mailgate/internal/utils"
)

// ErrNoSender marks a message whose header block is unparseable or carries
// no usable From entry. The pipeline treats it as a failed ingestion and
// leaves the message unmarked, since the cause may be a transient
// structure-fetch glitch.
var ErrNoSender = errors.New("message has no sender header")

// TargetCharset is the charset all extracted text is normalized into.
const TargetCharset = "utf-8"

// HeaderSummary is the slice of header data correlation needs.
type HeaderSummary struct {
	Name      string // display name, may be empty
	Email     string // mailbox@host, host lower-cased
	Subject   string // raw, possibly RFC2047-encoded
	MessageID string // without angle brackets, may be empty
}

// Message is a fully normalized inbound message. Built once per source
// message, consumed, then discarded.
type Message struct {
	Seq         uint32
	SenderName  string
	SenderEmail string
	Subject     string
	MessageID   string
	RawHeader   string
	Body        string
	PriorityID  int // 0 = no hint
}

type headerSource interface {
	FetchHeader(seq uint32) (string, error)
}

// Normalizer extracts header summaries and assembles plaintext bodies.
type Normalizer struct {
	src     headerSource
	walker  *mimetree.Walker
	decoder *mime.WordDecoder
	logger  *log.Logger
}

// NormalizerOption customizes a Normalizer.
type NormalizerOption func(*Normalizer)

// NewNormalizer builds a normalizer over the given header source and part
// walker.
func NewNormalizer(src headerSource, walker *mimetree.Walker, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		src:     src,
		walker:  walker,
		decoder: &mime.WordDecoder{CharsetReader: msgcharset.Reader},
		logger:  log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// WithNormalizerLogger overrides the logger used for diagnostics.
func WithNormalizerLogger(logger *log.Logger) NormalizerOption {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// HeaderSummary fails with ErrNoSender when the server returns no parseable
// header or the header has no From entry.
func (n *Normalizer) HeaderSummary(seq uint32) (*HeaderSummary, error) {
	raw, err := n.src.FetchHeader(seq)
	if err != nil {
		return nil, err
	}
	msg, err := stdmail.ReadMessage(strings.NewReader(ensureHeaderTerminator(raw)))
	if err != nil {
		return nil, ErrNoSender
	}
	from := msg.Header.Get("From")
	if strings.TrimSpace(from) == "" {
		return nil, ErrNoSender
	}
	summary := &HeaderSummary{
		Subject:   msg.Header.Get("Subject"),
		MessageID: trimMessageID(msg.Header.Get("Message-Id")),
	}
	if addr, err := stdmail.ParseAddress(n.DecodeHeaderText(from)); err == nil {
		summary.Name = addr.Name
		summary.Email = lowerHost(addr.Address)
	} else {
		summary.Email = lowerHost(strings.TrimSpace(from))
	}
	if summary.Email == "" {
		return nil, ErrNoSender
	}
	return summary, nil
}

// DecodeHeaderText decodes MIME encoded-word sequences to plain text.
// Charset lookups go through the go-message registry, so non-UTF-8
// encoded words decode too. Text without encoded words, or text whose
// decode fails, is coerced to valid UTF-8 instead.
func (n *Normalizer) DecodeHeaderText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if strings.Contains(raw, "=?") {
		if decoded, err := n.decoder.DecodeHeader(raw); err == nil {
			return decoded
		}
	}
	return mimetree.CoerceUTF8([]byte(raw))
}

// Body assembles the plaintext body: a TEXT/PLAIN part when present,
// otherwise TEXT/HTML with explicit line-break markup normalized to
// newlines before the remaining tags are stripped.
func (n *Normalizer) Body(seq uint32) string {
	if body := n.walker.FindPart(seq, "TEXT/PLAIN", TargetCharset); body != "" {
		return body
	}
	html := n.walker.FindPart(seq, "TEXT/HTML", TargetCharset)
	if html == "" {
		return ""
	}
	return utils.StripHTML(normalizeLineBreakMarkup(html))
}

// Normalize builds the full normalized message for one source message.
// Priority derivation runs only when usePriority is set by policy.
func (n *Normalizer) Normalize(seq uint32, usePriority bool) (*Message, error) {
	summary, err := n.HeaderSummary(seq)
	if err != nil {
		return nil, err
	}
	rawHeader, err := n.src.FetchHeader(seq)
	if err != nil {
		return nil, err
	}
	msg := &Message{
		Seq:         seq,
		SenderName:  summary.Name,
		SenderEmail: summary.Email,
		Subject:     summary.Subject,
		MessageID:   summary.MessageID,
		RawHeader:   rawHeader,
		Body:        utils.StripEmptyLines(n.Body(seq)),
	}
	if usePriority {
		msg.PriorityID = ParsePriority(rawHeader)
	}
	return msg, nil
}

var lineBreakReplacer = strings.NewReplacer(
	"</DIV><DIV>", "\n",
	"</div><div>", "\n",
	"<br>", "\n",
	"<br />", "\n",
	"<br/>", "\n",
	"<BR>", "\n",
	"<BR />", "\n",
	"<BR/>", "\n",
)

func normalizeLineBreakMarkup(html string) string {
	return lineBreakReplacer.Replace(html)
}

func lowerHost(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	return addr[:at] + strings.ToLower(addr[at:])
}

func trimMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "<>")
	return strings.TrimSpace(value)
}

func ensureHeaderTerminator(raw string) string {
	if strings.HasSuffix(raw, "\r\n\r\n") || strings.HasSuffix(raw, "\n\n") {
		return raw
	}
	return raw + "\r\n\r\n"
}
