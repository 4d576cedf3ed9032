// Package ingest converts normalized mail messages into ticket updates:
// correlation decides create-or-append, the pipeline applies the decision
// and clears the source message exactly once.
package ingest

import "context"

// MessageChannel is the channel recorded on appended messages.
const MessageChannel = "Email"

// Ticket is the slice of a stored work item that correlation needs.
type Ticket struct {
	ID     int
	Number string // external, in-subject identifier
	Email  string // recorded requester address
}

// NewTicketInput is the creation payload for a ticket seeded by mail.
type NewTicketInput struct {
	Name      string
	Email     string
	Subject   string
	Body      string
	RawHeader string
	MessageID string
	AccountID int
	Priority  int // 0 when no hint
}

// File is a decoded attachment ready for storage.
type File struct {
	Name string
	Type string
	Data []byte
}

// TicketStore is the external work-item store. Lookups return nil without
// error when nothing matches.
type TicketStore interface {
	// FindTicketByMessageID resolves a previously ingested message-id,
	// scoped by the sender address.
	FindTicketByMessageID(ctx context.Context, messageID, senderEmail string) (*Ticket, error)
	// FindTicketByNumber resolves the in-subject external identifier.
	FindTicketByNumber(ctx context.Context, number string) (*Ticket, error)
	// CreateTicket returns the new ticket and the reference of its first
	// message, used for attachment binding.
	CreateTicket(ctx context.Context, input NewTicketInput) (*Ticket, string, error)
	// AppendMessage adds a message to an existing ticket and returns its
	// reference.
	AppendMessage(ctx context.Context, ticketID int, body, messageID, rawHeader string) (string, error)
	// AttachFile binds a decoded attachment to a stored message.
	AttachFile(ctx context.Context, file File, messageRef string) error
	// PostNote adds a customer-visible note to a ticket.
	PostNote(ctx context.Context, ticketID int, title, body string) error
}

// Policy exposes the system-wide ingestion switches.
type Policy interface {
	EmailPollingEnabled() bool
	UseEmailPriority() bool
	AllowEmailAttachments() bool
	FileTypeAllowed(filename, mimeType string) bool
	DefaultAccountID() int
}

// BanList is the external banned-sender lookup.
type BanList interface {
	IsBanned(ctx context.Context, email string) (bool, error)
}

// Alerter is the outbound administrative alert channel.
type Alerter interface {
	NotifyAdmins(subject, body string) error
}
