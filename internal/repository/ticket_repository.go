package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/mailgate/internal/ingest"
)

// TicketRepository is the MySQL-backed work-item store behind the
// ingestion pipeline. The schema mirrors the backend's tickets,
// ticket_messages, ticket_attachments and ticket_notes tables.
type TicketRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewTicketRepository wraps the shared database handle.
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db, now: time.Now}
}

type ticketRow struct {
	ID     int    `db:"id"`
	Number string `db:"number"`
	Email  string `db:"email"`
}

// FindTicketByMessageID resolves a previously ingested message-id, scoped
// by the sender address. Returns nil without error when nothing matches.
func (r *TicketRepository) FindTicketByMessageID(ctx context.Context, messageID, senderEmail string) (*ingest.Ticket, error) {
	if messageID == "" {
		return nil, nil
	}
	var row ticketRow
	err := r.db.GetContext(ctx, &row, `
		SELECT t.id, t.number, t.email
		FROM tickets t
		JOIN ticket_messages m ON m.ticket_id = t.id
		WHERE m.message_id = ? AND t.email = ?
		LIMIT 1`, messageID, senderEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket by message-id: %w", err)
	}
	return &ingest.Ticket{ID: row.ID, Number: row.Number, Email: row.Email}, nil
}

// FindTicketByNumber resolves the external ticket number carried in mail
// subjects. Returns nil without error when nothing matches.
func (r *TicketRepository) FindTicketByNumber(ctx context.Context, number string) (*ingest.Ticket, error) {
	var row ticketRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, number, email FROM tickets WHERE number = ? LIMIT 1`, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket by number: %w", err)
	}
	return &ingest.Ticket{ID: row.ID, Number: row.Number, Email: row.Email}, nil
}

// CreateTicket inserts the ticket and its seeding message in one
// transaction and returns the ticket plus the first message's reference.
func (r *TicketRepository) CreateTicket(ctx context.Context, input ingest.NewTicketInput) (*ingest.Ticket, string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("begin create ticket: %w", err)
	}
	defer tx.Rollback()

	now := r.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tickets (email, name, subject, priority_id, account_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		input.Email, input.Name, input.Subject, nullableInt(input.Priority), input.AccountID, now)
	if err != nil {
		return nil, "", fmt.Errorf("insert ticket: %w", err)
	}
	ticketID, err := res.LastInsertId()
	if err != nil {
		return nil, "", fmt.Errorf("ticket id: %w", err)
	}

	number := fmt.Sprintf("%06d", ticketID)
	if _, err := tx.ExecContext(ctx, `
		UPDATE tickets SET number = ? WHERE id = ?`, number, ticketID); err != nil {
		return nil, "", fmt.Errorf("assign ticket number: %w", err)
	}

	msgRef, err := insertMessage(ctx, tx, int(ticketID), input.Body, input.MessageID, input.RawHeader, now)
	if err != nil {
		return nil, "", err
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("commit create ticket: %w", err)
	}
	return &ingest.Ticket{ID: int(ticketID), Number: number, Email: input.Email}, msgRef, nil
}

// AppendMessage adds a message to an existing ticket and returns its
// reference.
func (r *TicketRepository) AppendMessage(ctx context.Context, ticketID int, body, messageID, rawHeader string) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin append message: %w", err)
	}
	defer tx.Rollback()

	msgRef, err := insertMessage(ctx, tx, ticketID, body, messageID, rawHeader, r.now())
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit append message: %w", err)
	}
	return msgRef, nil
}

// AttachFile stores a decoded attachment against a message reference.
func (r *TicketRepository) AttachFile(ctx context.Context, file ingest.File, messageRef string) error {
	msgID, err := strconv.Atoi(messageRef)
	if err != nil {
		return fmt.Errorf("bad message reference %q: %w", messageRef, err)
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO ticket_attachments (message_id, filename, mime_type, size, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msgID, file.Name, file.Type, len(file.Data), file.Data, r.now()); err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// PostNote adds a visible note to a ticket.
func (r *TicketRepository) PostNote(ctx context.Context, ticketID int, title, body string) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO ticket_notes (ticket_id, title, body, created_at)
		VALUES (?, ?, ?, ?)`,
		ticketID, title, body, r.now()); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, ticketID int, body, messageID, rawHeader string, now time.Time) (string, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ticket_messages (ticket_id, message_id, body, raw_header, channel, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ticketID, messageID, body, rawHeader, ingest.MessageChannel, now)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("message id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func nullableInt(v int) any {
	if v <= 0 {
		return nil
	}
	return v
}
