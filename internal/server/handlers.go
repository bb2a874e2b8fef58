package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/thinkbrief/thinkbrief/internal/history"
	"github.com/thinkbrief/thinkbrief/internal/inference"
	"github.com/thinkbrief/thinkbrief/internal/storage"
)

// handleUpload proxies a document to the inference engine and records the
// resulting analysis. Authenticated owners get a durable history record;
// anonymous sessions get a mirror-only entry keyed by document id.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, &history.ValidationError{Field: "file", Message: "multipart form required"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, &history.ValidationError{Field: "file", Message: "file part missing"})
		return
	}
	defer file.Close()

	analysis, err := s.inference.Upload(r.Context(), ownerID, header.Filename, file)
	if err != nil {
		writeError(w, inferenceErr(err))
		return
	}

	if ownerID == "" {
		rec := storage.HistoryRecord{
			DocumentID:    analysis.DocumentID,
			DocumentTitle: header.Filename,
			CreatedAt:     time.Now().UTC(),
			Summary:       analysis.Summary,
			Advantages:    analysis.Advantages,
			Limitations:   analysis.Limitations,
			Queries:       []storage.Query{},
		}
		if s.mirror != nil {
			if merr := s.mirror.Upsert(rec); merr != nil {
				slog.Warn("mirror upsert failed", "document", rec.DocumentID, "error", merr)
			}
		}
		writeJSON(w, http.StatusCreated, rec)
		return
	}

	rec, err := s.svc.RecordAnalysis(r.Context(), history.AnalysisParams{
		OwnerID:       ownerID,
		DocumentID:    analysis.DocumentID,
		DocumentTitle: header.Filename,
		Summary:       analysis.Summary,
		Advantages:    analysis.Advantages,
		Limitations:   analysis.Limitations,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type summaryRequest struct {
	DocumentID string `json:"doc_id"`
}

// handleGenerateSummary asks the inference engine to (re)summarize an
// already-uploaded document. The result is returned as-is; recording it
// against history is the client's follow-up call.
func (s *Server) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req summaryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DocumentID == "" {
		writeError(w, &history.ValidationError{Field: "doc_id"})
		return
	}

	analysis, err := s.inference.GenerateSummary(r.Context(), ownerID, req.DocumentID)
	if err != nil {
		writeError(w, inferenceErr(err))
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

type summarizeTextRequest struct {
	Text       string `json:"text"`
	DocumentID string `json:"documentId"`
}

type summarizeTextResponse struct {
	Summary    string `json:"summary"`
	DocumentID string `json:"documentId,omitempty"`
}

// handleSummarizeText summarizes pasted text directly, without an upload.
// Nothing is recorded; the caller decides what to keep.
func (s *Server) handleSummarizeText(w http.ResponseWriter, r *http.Request) {
	if _, err := s.resolveOwner(r); err != nil {
		writeError(w, err)
		return
	}

	var req summarizeTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Text == "" {
		writeError(w, &history.ValidationError{Field: "text"})
		return
	}

	summary, err := s.inference.SummarizeText(r.Context(), req.Text, req.DocumentID)
	if err != nil {
		writeError(w, inferenceErr(err))
		return
	}
	writeJSON(w, http.StatusOK, summarizeTextResponse{Summary: summary, DocumentID: req.DocumentID})
}

// handleGetDocument returns the inference engine's detail view of a
// document, full text included. The payload is the engine's to shape, so it
// is relayed unchanged.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := s.inference.GetDocument(r.Context(), ownerID, r.PathValue("docID"))
	if err != nil {
		writeError(w, inferenceErr(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw) //nolint:errcheck
}

type askRequest struct {
	RecordID   string `json:"record_id"`
	DocumentID string `json:"doc_id"`
	Question   string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

// handleAsk forwards a question about an analyzed document and appends the
// exchange to the owning record.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Question == "" {
		writeError(w, &history.ValidationError{Field: "question"})
		return
	}
	if req.DocumentID == "" {
		writeError(w, &history.ValidationError{Field: "doc_id"})
		return
	}

	answer, err := s.inference.Ask(r.Context(), ownerID, req.DocumentID, req.Question)
	if err != nil {
		writeError(w, inferenceErr(err))
		return
	}

	switch {
	case ownerID != "" && req.RecordID != "":
		if _, aerr := s.svc.AppendQuery(r.Context(), req.RecordID, ownerID, req.Question, answer); aerr != nil {
			writeError(w, aerr)
			return
		}
	case s.mirror != nil:
		// Anonymous sessions track the exchange locally, keyed by the
		// record id when one exists and the document id otherwise.
		id := req.RecordID
		if id == "" {
			id = req.DocumentID
		}
		if merr := s.mirror.AppendQuery(id, req.Question, answer); merr != nil {
			slog.Warn("mirror append failed", "id", id, "error", merr)
		}
	}

	writeJSON(w, http.StatusOK, askResponse{Answer: answer})
}

// handleDeleteDocument removes an uploaded document from the inference
// engine. History records are untouched; the document and its record have
// independent lifecycles.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	docID := r.PathValue("docID")
	if err := s.inference.DeleteDocument(r.Context(), ownerID, docID); err != nil {
		writeError(w, inferenceErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "document deleted"})
}

// handleListHistory returns the owner's records, newest first. Anonymous
// sessions read the local mirror only.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if ownerID == "" {
		recs := []storage.HistoryRecord{}
		if s.mirror != nil {
			recs, err = s.mirror.ListForOwner("")
			if err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}

	recs, err := s.svc.ListHistory(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type createHistoryRequest struct {
	DocumentID    string   `json:"document_id"`
	DocumentTitle string   `json:"document_title"`
	Summary       string   `json:"summary"`
	Advantages    []string `json:"advantages"`
	Limitations   []string `json:"limitations"`
}

// handleCreateHistory records an analysis the client already holds, for
// example one produced while the session was anonymous and now being
// promoted to a durable record after sign-in.
func (s *Server) handleCreateHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createHistoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if ownerID == "" {
		rec := storage.HistoryRecord{
			DocumentID:    req.DocumentID,
			DocumentTitle: req.DocumentTitle,
			CreatedAt:     time.Now().UTC(),
			Summary:       req.Summary,
			Advantages:    req.Advantages,
			Limitations:   req.Limitations,
			Queries:       []storage.Query{},
		}
		if rec.DocumentID == "" {
			writeError(w, &history.ValidationError{Field: "document_id"})
			return
		}
		if s.mirror != nil {
			if merr := s.mirror.Upsert(rec); merr != nil {
				slog.Warn("mirror upsert failed", "document", rec.DocumentID, "error", merr)
			}
		}
		writeJSON(w, http.StatusCreated, rec)
		return
	}

	rec, err := s.svc.RecordAnalysis(r.Context(), history.AnalysisParams{
		OwnerID:       ownerID,
		DocumentID:    req.DocumentID,
		DocumentTitle: req.DocumentTitle,
		Summary:       req.Summary,
		Advantages:    req.Advantages,
		Limitations:   req.Limitations,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.svc.GetRecord(r.Context(), r.PathValue("id"), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type appendQueryRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// handleAppendQuery appends an already-answered exchange to a record.
func (s *Server) handleAppendQuery(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req appendQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.svc.AppendQuery(r.Context(), r.PathValue("id"), ownerID, req.Question, req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	id := r.PathValue("id")
	if ownerID == "" {
		// Anonymous deletes touch the mirror only; there is nothing
		// durable to archive.
		if s.mirror != nil {
			if merr := s.mirror.Remove(id); merr != nil {
				writeError(w, merr)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "record deleted"})
		return
	}

	if err := s.svc.DeleteOne(r.Context(), id, ownerID); err != nil {
		writeError(w, err)
		return
	}
	if s.mirror != nil {
		if merr := s.mirror.Remove(id); merr != nil {
			slog.Warn("mirror remove failed", "record", id, "error", merr)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "record deleted"})
}

type deleteAllResponse struct {
	Deleted int64  `json:"deleted"`
	Message string `json:"message"`
}

func (s *Server) handleDeleteAllHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if ownerID == "" {
		if s.mirror != nil {
			if merr := s.mirror.RemoveAllForOwner(""); merr != nil {
				writeError(w, merr)
				return
			}
		}
		writeJSON(w, http.StatusOK, deleteAllResponse{Message: "history cleared"})
		return
	}

	n, err := s.svc.DeleteAll(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.mirror != nil {
		if merr := s.mirror.RemoveAllForOwner(ownerID); merr != nil {
			slog.Warn("mirror clear failed", "owner", ownerID, "error", merr)
		}
	}
	writeJSON(w, http.StatusOK, deleteAllResponse{
		Deleted: n,
		Message: fmt.Sprintf("deleted %d records", n),
	})
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if ownerID == "" {
		writeError(w, &history.ValidationError{Field: "ownerId", Message: "archive requires a signed-in owner"})
		return
	}

	recs, err := s.svc.ListArchive(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// decodeJSON reads a JSON request body, rejecting malformed input as a
// validation failure.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &history.ValidationError{Field: "body", Message: "invalid JSON"}
	}
	return nil
}

// inferenceErr classifies an inference client failure: status failures pass
// through unchanged, transport failures surface as a 502-mapped upstream
// error.
func inferenceErr(err error) error {
	var se *inference.StatusError
	if errors.As(err, &se) {
		return err
	}
	return &history.UpstreamError{Service: "inference", Err: err}
}
