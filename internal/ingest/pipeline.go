package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/gotrs-io/mailgate/internal/mail/mimetree"
	"github.com/gotrs-io/mailgate/internal/mail/normalize"
	"github.com/gotrs-io/mailgate/internal/mail/session"
	"github.com/gotrs-io/mailgate/internal/models"
)

// DefaultFailureCeiling aborts a poll run after this many consecutive
// per-message failures.
const DefaultFailureCeiling = 100

// PollOutcome summarizes one account's poll run.
type PollOutcome struct {
	MessagesIngested int
	TerminatedEarly  bool
	LastError        string
}

// Pipeline orchestrates the per-message flow for one account's run:
// normalize, correlate, create-or-append, attach files, then clear the
// source message. A message is cleared only after its ticket effect is
// durable, so a crash in between re-presents the message and dedup catches
// it on the next poll.
type Pipeline struct {
	sess           session.Session
	account        *models.MailAccount
	store          TicketStore
	policy         Policy
	norm           *normalize.Normalizer
	corr           *Correlator
	logger         *log.Logger
	failureCeiling int
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// NewPipeline wires a pipeline for one account over an open session.
func NewPipeline(sess session.Session, account *models.MailAccount, store TicketStore, bans BanList, policy Policy, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sess:           sess,
		account:        account,
		store:          store,
		policy:         policy,
		logger:         log.Default(),
		failureCeiling: DefaultFailureCeiling,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.norm == nil {
		walker := mimetree.NewWalker(sess, mimetree.WithWalkerLogger(p.logger))
		p.norm = normalize.NewNormalizer(sess, walker, normalize.WithNormalizerLogger(p.logger))
	}
	if p.corr == nil {
		p.corr = NewCorrelator(store, bans, policy, p.norm,
			WithCorrelatorAccount(account.ID),
			WithCorrelatorLogger(p.logger))
	}
	return p
}

// WithPipelineLogger overrides the logger used for diagnostics.
func WithPipelineLogger(logger *log.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPipelineFailureCeiling overrides the consecutive-failure abort
// threshold.
func WithPipelineFailureCeiling(ceiling int) PipelineOption {
	return func(p *Pipeline) {
		if ceiling > 0 {
			p.failureCeiling = ceiling
		}
	}
}

// IngestOne runs normalize, correlate, and apply for a single message. A
// nil return means the message is handled and may be cleared from the
// inbox; duplicates and rejected senders report success on purpose so they
// stop being reprocessed. An error leaves the message unmarked for a
// future poll.
func (p *Pipeline) IngestOne(ctx context.Context, seq uint32) error {
	msg, err := p.norm.Normalize(seq, p.policy.UseEmailPriority())
	if err != nil {
		return fmt.Errorf("normalize message %d: %w", seq, err)
	}
	corr, err := p.corr.Correlate(ctx, msg)
	if err != nil {
		return fmt.Errorf("correlate message %d: %w", seq, err)
	}

	var ticketID int
	var messageRef string
	switch corr.Outcome {
	case OutcomeDuplicate:
		p.logf("ingest: message %s already ingested, skipping", msg.MessageID)
		return nil
	case OutcomeRejected:
		p.logf("ingest: ticket denied, %s", corr.Reason)
		return nil
	case OutcomeAppend:
		messageRef, err = p.store.AppendMessage(ctx, corr.Ticket.ID, bodyOrPlaceholder(msg.Body), msg.MessageID, msg.RawHeader)
		if err != nil {
			return fmt.Errorf("append to ticket %d: %w", corr.Ticket.ID, err)
		}
		ticketID = corr.Ticket.ID
	case OutcomeNew:
		ticket, firstRef, err := p.store.CreateTicket(ctx, corr.Input)
		if err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		ticketID = ticket.ID
		messageRef = firstRef
	}

	p.attachFiles(ctx, seq, ticketID, messageRef)
	return nil
}

// FetchMessages drives one poll run: messages are visited newest-first so
// interrupted runs make forward progress on the most recent mail, capped by
// the account's max-fetch and the consecutive-failure ceiling.
func (p *Pipeline) FetchMessages(ctx context.Context) (PollOutcome, error) {
	var outcome PollOutcome
	if err := p.sess.Connect(); err != nil {
		return outcome, err
	}
	if archive := p.account.Archive(); archive != "" {
		if !p.sess.EnsureFolder(archive, true) {
			p.logf("ingest: archive folder %s unavailable for %s", archive, p.account.Username)
		}
	}
	count, err := p.sess.MessageCount()
	if err != nil {
		return outcome, err
	}

	failures := 0
	for seq := count; seq >= 1; seq-- {
		if ctx.Err() != nil {
			outcome.TerminatedEarly = true
			break
		}
		if err := p.IngestOne(ctx, seq); err != nil {
			p.logf("ingest: message %d failed: %v", seq, err)
			outcome.LastError = err.Error()
			failures++
		} else {
			p.clearMessage(seq)
			outcome.MessagesIngested++
			failures = 0
		}
		if (p.account.MaxFetch > 0 && outcome.MessagesIngested >= p.account.MaxFetch) || failures >= p.failureCeiling {
			outcome.TerminatedEarly = true
			break
		}
	}

	if err := p.sess.Expunge(); err != nil {
		p.logf("ingest: expunge failed for %s: %v", p.account.Username, err)
	}
	return outcome, nil
}

// clearMessage marks the handled message seen, then archives it when an
// archive folder is configured and the move succeeds, otherwise deletes it
// when deletion is enabled. The sequence number is resolved to a stable UID
// first, since sequence numbers shift as the mailbox is mutated mid-run.
func (p *Pipeline) clearMessage(seq uint32) {
	uid, err := p.sess.ResolveUID(seq)
	if err != nil {
		p.logf("ingest: uid resolve failed for %d: %v", seq, err)
		uid = 0
	}
	if uid != 0 {
		if err := p.sess.MarkSeen(uid); err != nil {
			p.logf("ingest: mark seen failed for %d: %v", uid, err)
		}
	}
	moved := false
	if archive := p.account.Archive(); archive != "" && uid != 0 {
		if err := p.sess.Move(uid, archive); err != nil {
			p.logf("ingest: archive move failed for %d: %v", uid, err)
		} else {
			moved = true
		}
	}
	if !moved && p.account.DeleteAfterFetch {
		if err := p.sess.Delete(seq); err != nil {
			p.logf("ingest: delete failed for %d: %v", seq, err)
		}
	}
}

// attachFiles re-walks the structure for attachment descriptors and stores
// each allowed file; disallowed types surface as a visible rejection note
// instead of being dropped silently. Attachment trouble never fails an
// already-applied ingestion.
func (p *Pipeline) attachFiles(ctx context.Context, seq uint32, ticketID int, messageRef string) {
	if ticketID <= 0 || messageRef == "" || !p.policy.AllowEmailAttachments() {
		return
	}
	structure, err := p.sess.FetchStructure(seq)
	if err != nil {
		p.logf("ingest: structure fetch for attachments failed: %v", err)
		return
	}
	if structure.IsLeaf() {
		return
	}
	for _, desc := range mimetree.CollectAttachments(structure, "") {
		if !p.policy.FileTypeAllowed(desc.Filename, desc.MimeType) {
			note := fmt.Sprintf("Attachment %s [%s] rejected because of file type", desc.Filename, desc.MimeType)
			if err := p.store.PostNote(ctx, ticketID, "Email Attachment Rejected", note); err != nil {
				p.logf("ingest: rejection note failed for %s: %v", desc.Filename, err)
			}
			continue
		}
		raw, err := p.sess.FetchBodySection(seq, desc.Path)
		if err != nil {
			p.logf("ingest: attachment fetch failed for %s: %v", desc.Filename, err)
			continue
		}
		file := File{
			Name: desc.Filename,
			Type: desc.MimeType,
			Data: mimetree.DecodeTransfer(raw, desc.Encoding),
		}
		if err := p.store.AttachFile(ctx, file, messageRef); err != nil {
			p.logf("ingest: attach failed for %s: %v", desc.Filename, err)
		}
	}
}

func bodyOrPlaceholder(body string) string {
	if body == "" {
		return EmptyBodyPlaceholder
	}
	return body
}

func (p *Pipeline) logf(format string, args ...any) {
	if p == nil || p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
