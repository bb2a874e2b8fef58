// Package inference talks to the document-analysis service that produces
// summaries and answers. The service is an external collaborator: its
// failures are passed through with their status, never retried here.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// The caller's owner identity travels in this header, matching the
// service's contract.
const ownerHeader = "User-ID"

// StatusError reports a non-2xx response from the inference service. The
// upstream status is preserved so the caller can surface it unchanged.
type StatusError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned status %d: %s", e.Status, e.Body)
}

// Analysis is the result of summarizing one document.
type Analysis struct {
	DocumentID  string   `json:"doc_id"`
	Source      string   `json:"source"`
	Summary     string   `json:"summary"`
	Advantages  []string `json:"advantages"`
	Limitations []string `json:"limitations"`
}

// Client calls the inference service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the service at baseURL. Uploads and
// summarization are slow, so the timeout should be generous.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upload sends a document for analysis and returns the completed analysis.
func (c *Client) Upload(ctx context.Context, ownerID, filename string, file io.Reader) (*Analysis, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	setOwner(req, ownerID)

	var analysis Analysis
	if err := c.do(req, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// GenerateSummary asks the service to (re)summarize an already-uploaded
// document.
func (c *Client) GenerateSummary(ctx context.Context, ownerID, documentID string) (*Analysis, error) {
	body := map[string]string{"doc_id": documentID}

	req, err := c.jsonRequest(ctx, http.MethodPost, "/generate_summary", body)
	if err != nil {
		return nil, err
	}
	setOwner(req, ownerID)

	var analysis Analysis
	if err := c.do(req, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// SummarizeText summarizes raw text without uploading a document. When
// documentID is non-empty it is echoed back by the service so callers can
// correlate the result.
func (c *Client) SummarizeText(ctx context.Context, text, documentID string) (string, error) {
	body := map[string]string{"text": text}
	if documentID != "" {
		body["documentId"] = documentID
	}

	req, err := c.jsonRequest(ctx, http.MethodPost, "/summarize_text", body)
	if err != nil {
		return "", err
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// GetDocument fetches the detail view of an uploaded document, including its
// full reassembled text. The payload shape is owned by the inference service,
// so it is passed through undecoded.
func (c *Client) GetDocument(ctx context.Context, ownerID, documentID string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/document/"+documentID, nil)
	if err != nil {
		return nil, fmt.Errorf("build document request: %w", err)
	}
	setOwner(req, ownerID)

	var raw json.RawMessage
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Ask poses a question against a document's content and returns the answer.
func (c *Client) Ask(ctx context.Context, ownerID, documentID, question string) (string, error) {
	body := map[string]string{"doc_id": documentID, "question": question}

	req, err := c.jsonRequest(ctx, http.MethodPost, "/ask", body)
	if err != nil {
		return "", err
	}
	setOwner(req, ownerID)

	var out struct {
		Answer string `json:"answer"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Answer, nil
}

// DeleteDocument removes an uploaded document from the service.
func (c *Client) DeleteDocument(ctx context.Context, ownerID, documentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/delete/"+documentID, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	setOwner(req, ownerID)

	return c.do(req, nil)
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	enc, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(enc))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do executes the request and decodes a 2xx JSON response into out (when
// non-nil). Non-2xx responses become StatusError with the upstream status.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func setOwner(req *http.Request, ownerID string) {
	if ownerID != "" {
		req.Header.Set(ownerHeader, ownerID)
	}
}
