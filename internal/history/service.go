// Package history implements the user-history lifecycle: creating analysis
// records, appending Q&A exchanges, owner-scoped reads, and the
// archive-then-delete termination of a record.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/thinkbrief/thinkbrief/internal/storage"
)

// Mirror is the advisory client-side duplicate of the history store. All
// mirror calls made by the service are best-effort: failures are logged and
// never surfaced, and the mirror's state never overrides durable results.
type Mirror interface {
	Upsert(rec storage.HistoryRecord) error
	AppendQuery(id, question, answer string) error
	Remove(id string) error
	RemoveAllForOwner(ownerID string) error
	ReconcileFromStore(recs []storage.HistoryRecord) error
}

// Service orchestrates create/read/delete operations across the history and
// archive stores. It is the only component that writes to either.
type Service struct {
	store   *storage.HistoryStore
	archive *storage.ArchiveStore
	mirror  Mirror // nil when no client cache is attached
}

// NewService creates a Service over the given stores. mirror may be nil.
func NewService(store *storage.HistoryStore, archive *storage.ArchiveStore, mirror Mirror) *Service {
	return &Service{store: store, archive: archive, mirror: mirror}
}

// AnalysisParams carries the inputs of a completed document analysis.
type AnalysisParams struct {
	OwnerID       string
	DocumentID    string
	DocumentTitle string
	Summary       string
	Advantages    []string
	Limitations   []string
}

// RecordAnalysis creates a new history record for a completed analysis.
// Each call creates a distinct record: an analysis run is a new session, so
// idempotency is deliberately not provided. Records for anonymous sessions
// never reach this service; the caller keeps those in its local mirror only.
func (s *Service) RecordAnalysis(ctx context.Context, p AnalysisParams) (*storage.HistoryRecord, error) {
	switch {
	case p.OwnerID == "":
		return nil, &ValidationError{Field: "ownerId"}
	case p.DocumentID == "":
		return nil, &ValidationError{Field: "documentId"}
	case p.DocumentTitle == "":
		return nil, &ValidationError{Field: "documentTitle"}
	}

	rec := &storage.HistoryRecord{
		OwnerID:       p.OwnerID,
		DocumentID:    p.DocumentID,
		DocumentTitle: p.DocumentTitle,
		Summary:       p.Summary,
		Advantages:    p.Advantages,
		Limitations:   p.Limitations,
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, err
	}

	slog.Info("analysis recorded", "record", rec.ID, "owner", rec.OwnerID, "document", rec.DocumentID)

	if s.mirror != nil {
		if err := s.mirror.Upsert(*rec); err != nil {
			slog.Warn("mirror upsert failed", "record", rec.ID, "error", err)
		}
	}

	return rec, nil
}

// AppendQuery appends a question/answer pair to an owned record and returns
// the updated record. The ownership check is mandatory: a missing record
// yields NotFoundError, a foreign-owned one ForbiddenError, and in the
// latter case no state is mutated.
func (s *Service) AppendQuery(ctx context.Context, recordID, ownerID, question, answer string) (*storage.HistoryRecord, error) {
	if recordID == "" {
		return nil, &ValidationError{Field: "recordId"}
	}
	if ownerID == "" {
		return nil, &ForbiddenError{RecordID: recordID}
	}

	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		if err == storage.ErrRecordNotFound {
			return nil, &NotFoundError{RecordID: recordID}
		}
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, &ForbiddenError{RecordID: recordID}
	}

	q := storage.Query{Question: question, Answer: answer, AskedAt: time.Now().UTC()}
	if err := s.store.AppendQuery(ctx, recordID, q); err != nil {
		if err == storage.ErrRecordNotFound {
			return nil, &NotFoundError{RecordID: recordID}
		}
		return nil, err
	}

	if s.mirror != nil {
		if err := s.mirror.AppendQuery(recordID, question, answer); err != nil {
			slog.Warn("mirror append failed", "record", recordID, "error", err)
		}
	}

	return s.store.Get(ctx, recordID)
}

// GetRecord returns a single owned record. Ownership is checked the same
// way as on mutations.
func (s *Service) GetRecord(ctx context.Context, recordID, ownerID string) (*storage.HistoryRecord, error) {
	if recordID == "" {
		return nil, &ValidationError{Field: "recordId"}
	}
	if ownerID == "" {
		return nil, &ForbiddenError{RecordID: recordID}
	}

	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		if err == storage.ErrRecordNotFound {
			return nil, &NotFoundError{RecordID: recordID}
		}
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, &ForbiddenError{RecordID: recordID}
	}

	return rec, nil
}

// ListHistory returns all records owned by ownerID, newest first. An owner
// with no records gets an empty slice, not an error. The mirror, when
// attached, is reconciled from the durable result.
func (s *Service) ListHistory(ctx context.Context, ownerID string) ([]storage.HistoryRecord, error) {
	if ownerID == "" {
		return nil, &ValidationError{Field: "ownerId"}
	}

	records, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if s.mirror != nil {
		if err := s.mirror.ReconcileFromStore(records); err != nil {
			slog.Warn("mirror reconcile failed", "owner", ownerID, "error", err)
		}
	}

	return records, nil
}

// DeleteOne terminates a record. The archive tombstone and the removal of
// the live record commit in one transaction, so the tombstone always
// captures the record's final state, queries included. A record that is
// absent or foreign-owned reports NotFoundError either way, so callers
// cannot probe for other users' records.
func (s *Service) DeleteOne(ctx context.Context, recordID, ownerID string) error {
	if recordID == "" {
		return &ValidationError{Field: "recordId"}
	}
	if ownerID == "" {
		return &ForbiddenError{RecordID: recordID}
	}

	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		if err == storage.ErrRecordNotFound {
			return &NotFoundError{RecordID: recordID}
		}
		return err
	}
	if rec.OwnerID != ownerID {
		return &NotFoundError{RecordID: recordID}
	}

	arch, err := s.archive.ArchiveAndDelete(ctx, s.store, recordID, time.Now().UTC())
	if err != nil {
		if err == storage.ErrRecordNotFound {
			// A concurrent delete already removed it, which is the outcome
			// we wanted.
			return nil
		}
		return err
	}

	slog.Info("record archived", "record", recordID, "owner", ownerID, "tombstone", arch.ID)

	if s.mirror != nil {
		if err := s.mirror.Remove(recordID); err != nil {
			slog.Warn("mirror remove failed", "record", recordID, "error", err)
		}
	}

	return nil
}

// DeleteAll archives and removes every record owned by ownerID, returning
// the number of records processed. Zero is a valid, non-error result. The
// tombstone writes and the deletes share one transaction, so a record
// created while the clear runs is either left live or fully archived.
func (s *Service) DeleteAll(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, &ValidationError{Field: "ownerId"}
	}

	n, err := s.archive.ArchiveAndDeleteByOwner(ctx, s.store, ownerID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	slog.Info("history cleared", "owner", ownerID, "records", n)

	if s.mirror != nil {
		if err := s.mirror.RemoveAllForOwner(ownerID); err != nil {
			slog.Warn("mirror clear failed", "owner", ownerID, "error", err)
		}
	}

	return n, nil
}

// ListArchive returns the owner's tombstones, most recently deleted first.
// Archived data is audit material and is never served as current history.
func (s *Service) ListArchive(ctx context.Context, ownerID string) ([]storage.ArchivedRecord, error) {
	if ownerID == "" {
		return nil, &ValidationError{Field: "ownerId"}
	}
	return s.archive.ListByOwner(ctx, ownerID)
}
