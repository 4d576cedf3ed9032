package ingest

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/gotrs-io/mailgate/internal/mail/normalize"
)

// Placeholder literals supplied when a message carries no subject or no
// extractable text. Downstream renderers match on these exact literals.
const (
	NoSubjectPlaceholder = "[No Subject]"
	EmptyBodyPlaceholder = "(EMPTY)"
)

// Outcome classifies what should happen to a normalized message.
type Outcome int

const (
	// OutcomeNew seeds a new ticket.
	OutcomeNew Outcome = iota
	// OutcomeAppend appends to the referenced existing ticket.
	OutcomeAppend
	// OutcomeDuplicate skips a message whose id was already ingested; it
	// must still be cleared from the inbox.
	OutcomeDuplicate
	// OutcomeRejected drops a banned sender's message with no store
	// mutation; it must still be cleared from the inbox.
	OutcomeRejected
)

// Correlation is the engine's decision for one message.
type Correlation struct {
	Outcome Outcome
	Ticket  *Ticket        // set for OutcomeAppend
	Input   NewTicketInput // set for OutcomeNew
	Reason  string         // set for OutcomeRejected
}

var subjectTicketID = regexp.MustCompile(`\[#([0-9]{1,10})\]`)

// Correlator decides whether a message is a duplicate, an append to an
// existing ticket, or the seed of a new one.
type Correlator struct {
	store   TicketStore
	bans    BanList
	policy  Policy
	decoder headerDecoder
	logger  *log.Logger
	// AccountID of the polled mailbox; the policy default applies when it
	// is zero.
	accountID int
}

type headerDecoder interface {
	DecodeHeaderText(raw string) string
}

// CorrelatorOption customizes a Correlator.
type CorrelatorOption func(*Correlator)

// NewCorrelator wires the correlation engine to its external collaborators.
func NewCorrelator(store TicketStore, bans BanList, policy Policy, decoder headerDecoder, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		store:   store,
		bans:    bans,
		policy:  policy,
		decoder: decoder,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithCorrelatorAccount sets the identifier of the polled account recorded
// on created tickets.
func WithCorrelatorAccount(accountID int) CorrelatorOption {
	return func(c *Correlator) {
		c.accountID = accountID
	}
}

// WithCorrelatorLogger overrides the logger used for diagnostics.
func WithCorrelatorLogger(logger *log.Logger) CorrelatorOption {
	return func(c *Correlator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Correlate decides the fate of a normalized message. For any message-id
// already present in the store's index the result is never OutcomeNew: a
// re-seen message was ingested before a prior crash could clear it.
func (c *Correlator) Correlate(ctx context.Context, msg *normalize.Message) (Correlation, error) {
	if banned, err := c.bans.IsBanned(ctx, msg.SenderEmail); err != nil {
		c.logf("correlate: ban lookup failed for %s: %v", msg.SenderEmail, err)
	} else if banned {
		return Correlation{Outcome: OutcomeRejected, Reason: "banned sender " + msg.SenderEmail}, nil
	}

	if msg.MessageID != "" {
		ticket, err := c.store.FindTicketByMessageID(ctx, msg.MessageID, msg.SenderEmail)
		if err != nil {
			return Correlation{}, err
		}
		if ticket != nil {
			return Correlation{Outcome: OutcomeDuplicate, Ticket: ticket}, nil
		}
	}

	subject := c.decoder.DecodeHeaderText(msg.Subject)
	if ticket := c.matchSubjectTicket(ctx, subject, msg.SenderEmail); ticket != nil {
		return Correlation{Outcome: OutcomeAppend, Ticket: ticket}, nil
	}

	return Correlation{Outcome: OutcomeNew, Input: c.buildCreateInput(subject, msg)}, nil
}

// matchSubjectTicket resolves an embedded [#digits] identifier, requiring
// the ticket's recorded email to match the sender. Mismatched senders fall
// through to a fresh ticket instead of appending to someone else's thread.
func (c *Correlator) matchSubjectTicket(ctx context.Context, subject, senderEmail string) *Ticket {
	m := subjectTicketID.FindStringSubmatch(subject)
	if m == nil {
		return nil
	}
	ticket, err := c.store.FindTicketByNumber(ctx, m[1])
	if err != nil {
		c.logf("correlate: ticket lookup failed for %s: %v", m[1], err)
		return nil
	}
	if ticket == nil || !strings.EqualFold(ticket.Email, senderEmail) {
		return nil
	}
	return ticket
}

func (c *Correlator) buildCreateInput(subject string, msg *normalize.Message) NewTicketInput {
	input := NewTicketInput{
		Name:      c.decoder.DecodeHeaderText(msg.SenderName),
		Email:     msg.SenderEmail,
		Subject:   subject,
		Body:      msg.Body,
		RawHeader: msg.RawHeader,
		MessageID: msg.MessageID,
		AccountID: c.accountID,
		Priority:  msg.PriorityID,
	}
	if input.Name == "" {
		input.Name = input.Email
	}
	if strings.TrimSpace(input.Subject) == "" {
		input.Subject = NoSubjectPlaceholder
	}
	// Attachment-only messages legitimately carry no text.
	if input.Body == "" {
		input.Body = EmptyBodyPlaceholder
	}
	if input.AccountID == 0 {
		input.AccountID = c.policy.DefaultAccountID()
	}
	return input
}

func (c *Correlator) logf(format string, args ...any) {
	if c == nil || c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
