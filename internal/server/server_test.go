package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkbrief/thinkbrief/internal/cache"
	"github.com/thinkbrief/thinkbrief/internal/history"
	"github.com/thinkbrief/thinkbrief/internal/identity"
	"github.com/thinkbrief/thinkbrief/internal/inference"
	"github.com/thinkbrief/thinkbrief/internal/storage"
)

// fakeIdentity accepts the tokens in users, mapping each to an owner id.
func fakeIdentity(t *testing.T, users map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		owner, ok := users[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]string{"id": owner, "username": "user-" + owner},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeInference answers every upload, summary and question with canned data.
func fakeInference(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/upload":
			json.NewEncoder(w).Encode(map[string]any{
				"doc_id":      "doc-42",
				"summary":     "a summary",
				"advantages":  []string{"fast"},
				"limitations": []string{"narrow"},
			})
		case r.URL.Path == "/generate_summary":
			var req struct {
				DocumentID string `json:"doc_id"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(map[string]any{
				"doc_id":  req.DocumentID,
				"summary": "regenerated summary",
			})
		case r.URL.Path == "/ask":
			var req struct {
				Question string `json:"question"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(map[string]string{"answer": "echo: " + req.Question})
		case r.URL.Path == "/summarize_text":
			var req struct {
				Text string `json:"text"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(map[string]string{"summary": "short: " + req.Text})
		case strings.HasPrefix(r.URL.Path, "/document/"):
			docID := strings.TrimPrefix(r.URL.Path, "/document/")
			json.NewEncoder(w).Encode(map[string]any{
				"documentId": docID,
				"summary":    "a summary",
				"full_text":  "the reassembled text",
			})
		case strings.HasPrefix(r.URL.Path, "/delete/"):
			json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	srv    *httptest.Server
	svc    *history.Service
	mirror *cache.Mirror
}

func newTestEnv(t *testing.T, users map[string]string) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database, so the pool must
	// stay on a single connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.NewMigrationRunner(db).Run())

	store, err := storage.NewHistoryStore(db)
	require.NoError(t, err)
	archive, err := storage.NewArchiveStore(db)
	require.NoError(t, err)

	mirror, err := cache.Open(filepath.Join(t.TempDir(), "mirror.db"), cache.DefaultMaxRecords)
	require.NoError(t, err)
	t.Cleanup(func() { mirror.Close() })

	svc := history.NewService(store, archive, mirror)

	idSrv := fakeIdentity(t, users)
	infSrv := fakeInference(t)

	s := New(Options{
		Service:   svc,
		Mirror:    mirror,
		Identity:  identity.NewClient(idSrv.URL, 5*time.Second),
		Inference: inference.NewClient(infSrv.URL, 5*time.Second),
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, svc: svc, mirror: mirror}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpload_Authenticated_CreatesDurableRecord(t *testing.T) {
	env := newTestEnv(t, map[string]string{"tok-a": "alice"})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "paper.pdf")
	require.NoError(t, err)
	fmt.Fprint(part, "document bytes")
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer tok-a")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rec := decodeBody[storage.HistoryRecord](t, resp)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.Equal(t, "doc-42", rec.DocumentID)
	assert.Equal(t, "paper.pdf", rec.DocumentTitle)
	assert.Equal(t, "a summary", rec.Summary)

	listResp := env.request(t, http.MethodGet, "/api/history", "tok-a", nil)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	recs := decodeBody[[]storage.HistoryRecord](t, listResp)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}

func TestUpload_Anonymous_MirrorOnly(t *testing.T) {
	env := newTestEnv(t, map[string]string{"tok-a": "alice"})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.pdf")
	require.NoError(t, err)
	fmt.Fprint(part, "document bytes")
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rec := decodeBody[storage.HistoryRecord](t, resp)
	assert.Empty(t, rec.ID, "anonymous records have no durable id")
	assert.Equal(t, "doc-42", rec.DocumentID)

	// Visible to the anonymous listing, invisible to alice.
	anon := decodeBody[[]storage.HistoryRecord](t, env.request(t, http.MethodGet, "/api/history", "", nil))
	require.Len(t, anon, 1)
	assert.Equal(t, "doc-42", anon[0].DocumentID)

	owned := decodeBody[[]storage.HistoryRecord](t, env.request(t, http.MethodGet, "/api/history", "tok-a", nil))
	assert.Empty(t, owned)
}

func TestAsk_AppendsToRecord(t *testing.T) {
	env := newTestEnv(t, map[string]string{"tok-a": "alice"})

	created := decodeBody[storage.HistoryRecord](t, env.request(t, http.MethodPost, "/api/history", "tok-a", map[string]any{
		"document_id":    "doc-1",
		"document_title": "Paper",
		"summary":        "s",
	}))

	resp := env.request(t, http.MethodPost, "/api/ask", "tok-a", map[string]string{
		"record_id": created.ID,
		"doc_id":    "doc-1",
		"question":  "what is it about?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ans := decodeBody[askResponse](t, resp)
	assert.Equal(t, "echo: what is it about?", ans.Answer)

	got := decodeBody[storage.HistoryRecord](t, env.request(t, http.MethodGet, "/api/history/"+created.ID, "tok-a", nil))
	require.Len(t, got.Queries, 1)
	assert.Equal(t, "what is it about?", got.Queries[0].Question)
	assert.Equal(t, "echo: what is it about?", got.Queries[0].Answer)
}

func TestAsk_Anonymous_AppendsToMirror(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.mirror.Upsert(storage.HistoryRecord{
		DocumentID:    "doc-9",
		DocumentTitle: "Local",
		CreatedAt:     time.Now().UTC(),
	}))

	resp := env.request(t, http.MethodPost, "/api/ask", "", map[string]string{
		"doc_id":   "doc-9",
		"question": "still here?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	recs := decodeBody[[]storage.HistoryRecord](t, env.request(t, http.MethodGet, "/api/history", "", nil))
	require.Len(t, recs, 1)
	require.Len(t, recs[0].Queries, 1)
	assert.Equal(t, "still here?", recs[0].Queries[0].Question)
}

func TestGenerateSummary_ProxiesToInference(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(t, http.MethodPost, "/api/summary", "", map[string]string{"doc_id": "doc-7"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	analysis := decodeBody[inference.Analysis](t, resp)
	assert.Equal(t, "doc-7", analysis.DocumentID)
	assert.Equal(t, "regenerated summary", analysis.Summary)
}

func TestSummarizeText_ProxiesToInference(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(t, http.MethodPost, "/api/summarize_text", "", map[string]string{
		"text": "a very long chunk of pasted text",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody[summarizeTextResponse](t, resp)
	assert.Equal(t, "short: a very long chunk of pasted text", out.Summary)
}

func TestSummarizeText_EmptyTextRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(t, http.MethodPost, "/api/summarize_text", "", map[string]string{"text": ""})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetDocument_RelaysDetailPayload(t *testing.T) {
	env := newTestEnv(t, map[string]string{"tok-a": "alice"})

	resp := env.request(t, http.MethodGet, "/api/document/doc-42", "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "doc-42", out["documentId"])
	assert.Equal(t, "the reassembled text", out["full_text"])
}

func TestGetHistory_ForeignRecordForbidden(t *testing.T) {
	env := newTestEnv(t, map[string]string{"tok-a": "alice", "tok-b": "bob"})

	created := decodeBody[storage.HistoryRecord](t, env.request(t, http.MethodPost, "/api/history", "tok-a", map[string]any{
		"document_id":    "doc-1",
		"document_title": "Paper",
	}))

	resp := env.request(t, http.MethodGet, "/api/history/"+created.ID, "tok-b", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAppendQuery_OwnerMismatchForbidden(t *testing.T) {
	env := newTestEnv(t, map[string]string{"tok-a": "alice", "tok-b": "bob"})

	created := decodeBody[storage.HistoryRecord](t, env.request(t, http.MethodPost, "/api/history", "tok-a", map[string]any{
		"document_id":    "doc-1",
		"document_title": "Paper",
	}))

	resp := env.request(t, http.MethodPost, "/api/history/"+created.ID+"/queries", "tok-b", map[string]string{
		"question": "q", "answer": "a",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDeleteHistory_ArchivesThenRemoves(t *testing.T) {
	env := newTestEnv(t, map[string]string{"tok-a": "alice"})

	created := decodeBody[storage.HistoryRecord](t, env.request(t, http.MethodPost, "/api/history", "tok-a", map[string]any{
		"document_id":    "doc-1",
		"document_title": "Paper",
	}))

	resp := env.request(t, http.MethodDelete, "/api/history/"+created.ID, "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	getResp := env.request(t, http.MethodGet, "/api/history/"+created.ID, "tok-a", nil)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)

	tombs := decodeBody[[]storage.ArchivedRecord](t, env.request(t, http.MethodGet, "/api/archive", "tok-a", nil))
	require.Len(t, tombs, 1)
	assert.Equal(t, created.ID, tombs[0].RecordID)
}

func TestDeleteAllHistory_ScopedToOwner(t *testing.T) {
	env := newTestEnv(t, map[string]string{"tok-a": "alice", "tok-b": "bob"})

	for i := 0; i < 3; i++ {
		env.request(t, http.MethodPost, "/api/history", "tok-a", map[string]any{
			"document_id":    fmt.Sprintf("doc-%d", i),
			"document_title": "Paper",
		}).Body.Close()
	}
	env.request(t, http.MethodPost, "/api/history", "tok-b", map[string]any{
		"document_id":    "doc-b",
		"document_title": "Bob's",
	}).Body.Close()

	resp := env.request(t, http.MethodDelete, "/api/history-all", "tok-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[deleteAllResponse](t, resp)
	assert.Equal(t, int64(3), out.Deleted)

	bobs := decodeBody[[]storage.HistoryRecord](t, env.request(t, http.MethodGet, "/api/history", "tok-b", nil))
	assert.Len(t, bobs, 1)
}

func TestInvalidToken_Unauthorized(t *testing.T) {
	env := newTestEnv(t, map[string]string{"tok-a": "alice"})

	resp := env.request(t, http.MethodGet, "/api/history", "bogus", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestArchive_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(t, http.MethodGet, "/api/archive", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpstreamFailure_PassesStatusThrough(t *testing.T) {
	// Inference server that always fails with 503.
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	env := newTestEnv(t, nil)

	s := New(Options{
		Service:   env.svc,
		Mirror:    env.mirror,
		Identity:  identity.NewClient(fakeIdentity(t, nil).URL, 5*time.Second),
		Inference: inference.NewClient(bad.URL, 5*time.Second),
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, err := json.Marshal(map[string]string{"doc_id": "doc-1", "question": "q"})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/ask", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestIdentityFailure_PassesStatusThrough(t *testing.T) {
	// Identity provider that always fails with 503.
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provider down", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	env := newTestEnv(t, nil)

	s := New(Options{
		Service:   env.svc,
		Mirror:    env.mirror,
		Identity:  identity.NewClient(bad.URL, 5*time.Second),
		Inference: inference.NewClient(fakeInference(t).URL, 5*time.Second),
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/history", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode,
		"the provider's own status is surfaced, not a generic 502")
}
