package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/mailgate/internal/ingest"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
}

func TestFindTicketByMessageID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	mock.ExpectQuery(`SELECT t\.id, t\.number, t\.email`).
		WithArgs("m1@example.com", "u@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "email"}).
			AddRow(5, "000005", "u@example.com"))

	ticket, err := repo.FindTicketByMessageID(context.Background(), "m1@example.com", "u@example.com")
	require.NoError(t, err)
	require.Equal(t, 5, ticket.ID)
	require.Equal(t, "000005", ticket.Number)

	// No match returns nil without error.
	mock.ExpectQuery(`SELECT t\.id, t\.number, t\.email`).
		WithArgs("m2@example.com", "u@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "email"}))
	ticket, err = repo.FindTicketByMessageID(context.Background(), "m2@example.com", "u@example.com")
	require.NoError(t, err)
	require.Nil(t, ticket)

	// An empty message-id short-circuits without a query.
	ticket, err = repo.FindTicketByMessageID(context.Background(), "", "u@example.com")
	require.NoError(t, err)
	require.Nil(t, ticket)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindTicketByNumber(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)

	mock.ExpectQuery(`SELECT id, number, email FROM tickets WHERE number = \?`).
		WithArgs("000123").
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "email"}).
			AddRow(123, "000123", "u@example.com"))

	ticket, err := repo.FindTicketByNumber(context.Background(), "000123")
	require.NoError(t, err)
	require.Equal(t, 123, ticket.ID)

	mock.ExpectQuery(`SELECT id, number, email FROM tickets WHERE number = \?`).
		WithArgs("999999").
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "email"}))
	ticket, err = repo.FindTicketByNumber(context.Background(), "999999")
	require.NoError(t, err)
	require.Nil(t, ticket)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTicket(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)
	repo.now = fixedNow

	input := ingest.NewTicketInput{
		Name:      "Jane",
		Email:     "jane@example.com",
		Subject:   "printer on fire",
		Body:      "help",
		RawHeader: "From: jane@example.com\r\n",
		MessageID: "m1@example.com",
		AccountID: 2,
		Priority:  3,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tickets`).
		WithArgs("jane@example.com", "Jane", "printer on fire", 3, 2, fixedNow()).
		WillReturnResult(sqlmock.NewResult(44, 1))
	mock.ExpectExec(`UPDATE tickets SET number = \? WHERE id = \?`).
		WithArgs("000044", int64(44)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ticket_messages`).
		WithArgs(44, "m1@example.com", "help", "From: jane@example.com\r\n", ingest.MessageChannel, fixedNow()).
		WillReturnResult(sqlmock.NewResult(90, 1))
	mock.ExpectCommit()

	ticket, ref, err := repo.CreateTicket(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 44, ticket.ID)
	require.Equal(t, "000044", ticket.Number)
	require.Equal(t, "jane@example.com", ticket.Email)
	require.Equal(t, "90", ref)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTicketWithoutPriority(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)
	repo.now = fixedNow

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tickets`).
		WithArgs("u@example.com", "u@example.com", "[No Subject]", nil, 1, fixedNow()).
		WillReturnResult(sqlmock.NewResult(45, 1))
	mock.ExpectExec(`UPDATE tickets SET number = \? WHERE id = \?`).
		WithArgs("000045", int64(45)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ticket_messages`).
		WithArgs(45, "m2@example.com", "(EMPTY)", "", ingest.MessageChannel, fixedNow()).
		WillReturnResult(sqlmock.NewResult(91, 1))
	mock.ExpectCommit()

	_, _, err := repo.CreateTicket(context.Background(), ingest.NewTicketInput{
		Name:      "u@example.com",
		Email:     "u@example.com",
		Subject:   "[No Subject]",
		Body:      "(EMPTY)",
		MessageID: "m2@example.com",
		AccountID: 1,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)
	repo.now = fixedNow

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ticket_messages`).
		WithArgs(5, "m3@example.com", "more details", "From: u@example.com\r\n", ingest.MessageChannel, fixedNow()).
		WillReturnResult(sqlmock.NewResult(92, 1))
	mock.ExpectCommit()

	ref, err := repo.AppendMessage(context.Background(), 5, "more details", "m3@example.com", "From: u@example.com\r\n")
	require.NoError(t, err)
	require.Equal(t, "92", ref)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachFile(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)
	repo.now = fixedNow

	data := []byte("%PDF-")
	mock.ExpectExec(`INSERT INTO ticket_attachments`).
		WithArgs(92, "a.pdf", "APPLICATION/PDF", len(data), data, fixedNow()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AttachFile(context.Background(), ingest.File{
		Name: "a.pdf", Type: "APPLICATION/PDF", Data: data,
	}, "92")
	require.NoError(t, err)

	err = repo.AttachFile(context.Background(), ingest.File{Name: "x"}, "not-a-ref")
	require.ErrorContains(t, err, "bad message reference")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostNote(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTicketRepository(db)
	repo.now = fixedNow

	mock.ExpectExec(`INSERT INTO ticket_notes`).
		WithArgs(5, "Email Attachment Rejected", "Attachment a.exe [APPLICATION/X-MSDOWNLOAD] rejected because of file type", fixedNow()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.PostNote(context.Background(), 5, "Email Attachment Rejected",
		"Attachment a.exe [APPLICATION/X-MSDOWNLOAD] rejected because of file type")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
