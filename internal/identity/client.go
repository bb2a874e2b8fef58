// Package identity talks to the identity provider that issues and validates
// bearer credentials. The provider is an external collaborator; this client
// only resolves a credential to a stable owner identity.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidCredential is returned when the provider rejects the bearer
// token as invalid or expired. It is distinct from transport failure.
var ErrInvalidCredential = errors.New("invalid or expired credential")

// StatusError reports a provider response that is neither success nor a
// credential rejection, keeping the upstream status for the caller.
type StatusError struct {
	Status int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("identity provider returned status %d", e.Status)
}

// User is the verified identity behind a bearer credential.
type User struct {
	OwnerID     string `json:"id"`
	DisplayName string `json:"username"`
	Email       string `json:"email,omitempty"`
}

// Client resolves bearer credentials against the identity provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the provider at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// verifyResponse mirrors the provider's verify-token payload.
type verifyResponse struct {
	User User `json:"user"`
}

// Verify resolves token to a verified user. An empty token and a
// provider-side 401/403 both yield ErrInvalidCredential; any other non-OK
// status is a StatusError carrying the provider's status.
func (c *Client) Verify(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidCredential
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/verify-token", nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidCredential
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Status: resp.StatusCode}
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if body.User.OwnerID == "" {
		return nil, fmt.Errorf("identity provider returned no user id")
	}

	return &body.User, nil
}
